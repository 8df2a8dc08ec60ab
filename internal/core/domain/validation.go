package domain

// ValidationResult is the outcome of checking a candidate folder path.
// It is computed per request and never persisted. Errors block the
// requested action; warnings disclose a side effect but allow it.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`

	// ReplacedFolders lists configured descendant folders that an
	// ancestor add would replace. Populated alongside the warning so
	// the act path can perform the replacement deterministically.
	ReplacedFolders []string `json:"replacedFolders,omitempty"`
}

// AddError appends a blocking error and marks the result invalid.
func (r *ValidationResult) AddError(msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, msg)
}

// AddWarning appends a non-blocking warning.
func (r *ValidationResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
