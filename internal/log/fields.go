package log

// Canonical field names.
const (
	FieldComponent = "component"
	FieldPath      = "path"
	FieldScope     = "scope"
	FieldDatatype  = "datatype"
	FieldVariant   = "variant"
	FieldFiles     = "files"
)
