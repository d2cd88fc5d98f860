package schema

import (
	"github.com/iancoleman/strcase"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Rename is a field renaming policy applied to Go field names to produce
// wire names. An explicit name in the `tw` tag always wins.
type Rename uint8

const (
	RenameNone   Rename = iota // Go field name as-is
	RenameLower                // fieldname
	RenameUpper                // FIELDNAME
	RenameCamel                // fieldName
	RenamePascal               // FieldName
	RenameKebab                // field-name
	RenameSnake                // field_name
)

// Apply renames a Go field name.
func (r Rename) Apply(name string) string {
	switch r {
	case RenameLower:
		return cases.Lower(language.Und).String(name)
	case RenameUpper:
		return cases.Upper(language.Und).String(name)
	case RenameCamel:
		return strcase.ToLowerCamel(name)
	case RenamePascal:
		return strcase.ToCamel(name)
	case RenameKebab:
		return strcase.ToKebab(name)
	case RenameSnake:
		return strcase.ToSnake(name)
	}
	return name
}

func (r Rename) String() string {
	switch r {
	case RenameLower:
		return "lower"
	case RenameUpper:
		return "upper"
	case RenameCamel:
		return "camel"
	case RenamePascal:
		return "pascal"
	case RenameKebab:
		return "kebab"
	case RenameSnake:
		return "snake"
	}
	return "none"
}
