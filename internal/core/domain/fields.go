package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Semantic field names as understood by the validation endpoint.
const (
	FieldPersonName       = "nombre_confirmando"
	FieldBirthDay         = "dia_nacimiento"
	FieldBirthMonth       = "mes_nacimiento"
	FieldBirthYear        = "ano_nacimiento"
	FieldParish           = "parroquia"
	FieldBaptismDay       = "dia_bautizo"
	FieldBaptismMonth     = "mes_bautizo"
	FieldBaptismYear      = "ano_bautizo"
	FieldConfirmationDay  = "dia_confirmacion"
	FieldConfirmationMon  = "mes_confirmacion"
	FieldConfirmationYear = "ano_confirmacion"
	FieldFather           = "padre"
	FieldMother           = "madre"
	FieldGodfather        = "padrino"
	FieldGodmother        = "madrina"
	FieldMinister         = "ministro"
	FieldNotes            = "notas"

	// Derived keys added to validated data.
	FieldBirthDate       = "fecha_nacimiento"
	FieldSacramentDate   = "fecha_sacramento"
	FieldGivenNames      = "nombres"
	FieldPaternalSurname = "apellido_paterno"
	FieldMaternalSurname = "apellido_materno"
)

type FieldKind int

const (
	FieldKindText FieldKind = iota
	FieldKindDateComponent
	FieldKindName
)

// FieldMap resolves raw OCR column keys to semantic field names.
type FieldMap map[string]string

// DefaultFieldMap mirrors the column layout produced by the OCR service for
// sacramental registers.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		"col_1":  FieldPersonName,
		"col_2":  FieldBirthDay,
		"col_3":  FieldBirthMonth,
		"col_4":  FieldBirthYear,
		"col_5":  FieldParish,
		"col_6":  FieldBaptismDay,
		"col_7":  FieldBaptismMonth,
		"col_8":  FieldBaptismYear,
		"col_9":  FieldFather,
		"col_10": FieldMother,
		"col_11": FieldGodfather,
		"col_12": FieldGodmother,
		"col_13": FieldConfirmationDay,
		"col_14": FieldConfirmationMon,
		"col_15": FieldConfirmationYear,
		"col_16": FieldMinister,
		"col_17": FieldNotes,
	}
}

// Resolve returns the semantic name for a raw key. Unknown keys keep their
// raw name so nothing extracted is silently lost.
func (m FieldMap) Resolve(rawKey string) string {
	if semantic, ok := m[rawKey]; ok && semantic != "" {
		return semantic
	}
	return rawKey
}

// Excluded reports whether a field never takes part in validation. The parish
// column is chosen through the institution selector instead.
func Excluded(semanticName string) bool {
	return semanticName == FieldParish
}

func KindOf(semanticName string) FieldKind {
	switch semanticName {
	case FieldBirthDay, FieldBirthMonth, FieldBirthYear,
		FieldBaptismDay, FieldBaptismMonth, FieldBaptismYear,
		FieldConfirmationDay, FieldConfirmationMon, FieldConfirmationYear:
		return FieldKindDateComponent
	case FieldPersonName, FieldFather, FieldMother, FieldGodfather, FieldGodmother, FieldMinister:
		return FieldKindName
	default:
		return FieldKindText
	}
}

// SanitizeValue strips characters the field's policy does not allow instead
// of rejecting the edit.
func SanitizeValue(semanticName, value string) string {
	value = norm.NFC.String(value)
	switch KindOf(semanticName) {
	case FieldKindDateComponent:
		return strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, value)
	case FieldKindName:
		return strings.Map(func(r rune) rune {
			switch {
			case unicode.IsLetter(r), r == ' ', r == '-', r == '.':
				return r
			default:
				return -1
			}
		}, value)
	default:
		return value
	}
}

// SacramentDateFields lists the day, month and year fields holding the
// sacrament date for a register type.
func SacramentDateFields(t SacramentType) (day, month, year string) {
	if t == SacramentConfirmation {
		return FieldConfirmationDay, FieldConfirmationMon, FieldConfirmationYear
	}
	return FieldBaptismDay, FieldBaptismMonth, FieldBaptismYear
}
