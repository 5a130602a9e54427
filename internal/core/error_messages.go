package core

// error_messages.go maps technical errors to user-facing messages.
//
// # Error Codes Reference
//
// When an import fails, users can quote the error code to support staff
// for faster diagnosis. Codes are grouped by category:
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate record: A record with this key already exists
//	        Patterns: "record already exists", "duplicate key"
//
//	DB002 - Unique constraint: This value must be unique but already exists
//	        Patterns: "unique constraint", "violates unique"
//
//	DB003 - Foreign key: Referenced record does not exist
//	        Patterns: "foreign key"
//
//	DB004 - Connection refused: Unable to connect to database
//	        Patterns: "connection refused"
//
//	DB005 - Connection reset: Database connection was interrupted
//	        Patterns: "connection reset"
//
//	DB006 - Timeout: Operation timed out
//	        Patterns: "timeout"
//
//	DB007 - Busy: Database was busy with conflicting operations
//	        Patterns: "deadlock", "database is locked"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid date: Date cell could not be read
//	         Patterns: "unrecognised date"
//
//	VAL002 - Invalid number: Number cell could not be read
//	         Patterns: "is not a number"
//
//	VAL003 - Out of range: Number is negative or too large
//	         Patterns: "must not be negative", "out of range"
//
//	VAL004 - Invalid category: Category path is incomplete or malformed
//	         Patterns: "invalid category path"
//
//	VAL005 - Unknown status: Status is not in the allowed list
//	         Patterns: "unknown status"
//
//	VAL006 - Warranty dates: Warranty ends before it starts
//	         Patterns: "ends before"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: File exceeds the upload size limit
//	          Patterns: "file too large"
//
//	FILE002 - Legacy workbook: .xls files are not supported
//	          Patterns: "legacy .xls"
//
//	FILE003 - Not a spreadsheet: File is not an .xlsx workbook
//	          Patterns: "not an xlsx spreadsheet"
//
//	FILE004 - No file: No file was selected
//	          Patterns: "no file provided"
//
//	FILE005 - Empty file: The uploaded file is empty
//	          Patterns: "empty file"
//
//	FILE006 - Wrong extension: Only .xlsx and .xlsm are accepted
//	          Patterns: "unsupported file type"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - System busy: Too many imports in progress
//	         Patterns: "too many imports"
//
//	IMP002 - Task not found: Import task is unknown or expired
//	         Patterns: "import task not found"
//
//	IMP003 - Batch not found: Import batch is unknown
//	         Patterns: "import batch not found"
//
//	IMP004 - Header mismatch: Header row lacks required columns
//	         Patterns: "header row does not match"
//
//	IMP005 - Interrupted: Import stopped before the last row
//	         Patterns: "import interrupted"
//
//	IMP006 - Request cancelled
//	         Patterns: "context canceled"
//
//	IMP007 - Request timeout
//	         Patterns: "context deadline exceeded"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Rate limited: Too many requests
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Check the application log for
// the original technical error.
//
// Patterns are matched case-insensitively using strings.Contains and the
// first match wins, so specific patterns come before general ones.

import "strings"

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so order matters:
//   - More specific patterns should come before general ones
//   - Multiple patterns can map to the same error code
var errorPatterns = []errorPattern{
	// =========================================================================
	// Database Constraint Errors (DB001-DB003)
	// =========================================================================
	{
		pattern: "record already exists",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Remove rows that were already imported",
			Code:    "DB001",
		},
	},
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Remove rows that were already imported",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate asset numbers in your workbook",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Check for duplicate asset numbers in your workbook",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Please try again or contact support",
			Code:    "DB003",
		},
	},

	// =========================================================================
	// Database Connection Errors (DB004-DB007)
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try importing a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// =========================================================================
	// Validation Errors (VAL001-VAL006)
	// =========================================================================
	{
		pattern: "unrecognised date",
		msg: UserMessage{
			Message: "Invalid date format detected",
			Action:  "Use YYYY-MM-DD, YYYY/MM/DD or an Excel date cell",
			Code:    "VAL001",
		},
	},
	{
		pattern: "is not a number",
		msg: UserMessage{
			Message: "Invalid number format detected",
			Action:  "Enter a whole number of years",
			Code:    "VAL002",
		},
	},
	{
		pattern: "must not be negative",
		msg: UserMessage{
			Message: "Number is out of range",
			Action:  "Enter a value between 0 and 100",
			Code:    "VAL003",
		},
	},
	{
		pattern: "out of range",
		msg: UserMessage{
			Message: "Number is out of range",
			Action:  "Enter a value between 0 and 100",
			Code:    "VAL003",
		},
	},
	{
		pattern: "invalid category path",
		msg: UserMessage{
			Message: "Category path is invalid",
			Action:  "Fill category levels from level 1 down and avoid '/' in names",
			Code:    "VAL004",
		},
	},
	{
		pattern: "unknown status",
		msg: UserMessage{
			Message: "Status is not in the allowed list",
			Action:  "Use IN_USE, INVENTORY, MAINTENANCE or RETIRED",
			Code:    "VAL005",
		},
	},
	{
		pattern: "ends before",
		msg: UserMessage{
			Message: "Warranty ends before it starts",
			Action:  "Check the warranty start and end dates",
			Code:    "VAL006",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE006)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the upload size limit",
			Action:  "Split the workbook into smaller files",
			Code:    "FILE001",
		},
	},
	{
		pattern: "legacy .xls",
		msg: UserMessage{
			Message: "Legacy .xls workbooks are not supported",
			Action:  "Save the file as .xlsx and upload it again",
			Code:    "FILE002",
		},
	},
	{
		pattern: "not an xlsx spreadsheet",
		msg: UserMessage{
			Message: "File is not an Excel workbook",
			Action:  "Download the template and fill it in",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select an .xlsx file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a workbook with data rows",
			Code:    "FILE005",
		},
	},
	{
		pattern: "unsupported file type",
		msg: UserMessage{
			Message: "Only .xlsx and .xlsm files are accepted",
			Action:  "Save the file as .xlsx and upload it again",
			Code:    "FILE006",
		},
	},

	// =========================================================================
	// Import Errors (IMP001-IMP007)
	// =========================================================================
	{
		pattern: "too many imports",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "IMP001",
		},
	},
	{
		pattern: "import task not found",
		msg: UserMessage{
			Message: "Import task not found",
			Action:  "The task may have expired. Check the result by batch id",
			Code:    "IMP002",
		},
	},
	{
		pattern: "import batch not found",
		msg: UserMessage{
			Message: "Import batch not found",
			Action:  "Verify the batch id",
			Code:    "IMP003",
		},
	},
	{
		pattern: "header row does not match",
		msg: UserMessage{
			Message: "Header row does not match the import template",
			Action:  "Download the template and keep its header row",
			Code:    "IMP004",
		},
	},
	{
		pattern: "import interrupted",
		msg: UserMessage{
			Message: "Import was interrupted",
			Action:  "Upload the file again",
			Code:    "IMP005",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "IMP006",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try importing a smaller file or check your connection",
			Code:    "IMP007",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
// This is the fallback for unexpected errors. Support staff should check
// application logs for the original technical error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
//
// Example:
//
//	msg := MapError(fmt.Errorf("%w: 30MB", ErrFileTooLarge))
//	// msg.Code == "FILE001"
//	// msg.Message == "File exceeds the upload size limit"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// IsUserFacing checks if an error matches a known pattern and should be shown to users.
// Returns true if the error matches a specific pattern (not the generic ERR000 fallback).
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	msg := MapError(err)
	return msg.Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError creates a UserError by mapping a technical error to a user-friendly message.
// The returned UserError preserves the original technical error for logging via Unwrap(),
// while providing a clean user message via Error().
//
// Returns nil if err is nil.
//
// Example:
//
//	ue := NewUserError(dbErr)
//	log.Error(ue.Technical)          // Log original error
//	fmt.Println(ue.Error())           // Show "A record with this key already exists"
//	fmt.Println(ue.User.Code)         // Show "DB001"
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
