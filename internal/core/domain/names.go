package domain

import (
	"fmt"
	"strconv"
	"strings"
)

type PersonName struct {
	GivenNames      string `json:"nombres"`
	PaternalSurname string `json:"apellido_paterno"`
	MaternalSurname string `json:"apellido_materno"`
}

func (n PersonName) Empty() bool {
	return n.GivenNames == "" && n.PaternalSurname == ""
}

// ParsePersonName splits a register name into given names and surnames.
// This is a positional heuristic and is wrong for compound surnames; the
// "given - paternal - maternal" form is the unambiguous input.
func ParsePersonName(text string) PersonName {
	text = strings.TrimSpace(text)
	if text == "" {
		return PersonName{}
	}

	if strings.Contains(text, "-") {
		parts := strings.SplitN(text, "-", 3)
		var name PersonName
		name.GivenNames = strings.TrimSpace(parts[0])
		if len(parts) > 1 {
			name.PaternalSurname = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			name.MaternalSurname = strings.TrimSpace(parts[2])
		}
		return name
	}

	tokens := strings.Fields(text)
	switch len(tokens) {
	case 1:
		return PersonName{GivenNames: tokens[0]}
	case 2:
		return PersonName{GivenNames: tokens[0], PaternalSurname: tokens[1]}
	case 3:
		return PersonName{GivenNames: tokens[0] + " " + tokens[1], PaternalSurname: tokens[2]}
	default:
		return PersonName{
			GivenNames:      tokens[0] + " " + tokens[1],
			PaternalSurname: tokens[2],
			MaternalSurname: strings.Join(tokens[3:], " "),
		}
	}
}

// ComposeDate builds an ISO date from separate register components, zero
// padding day and month. Missing or non-numeric components yield "".
func ComposeDate(day, month, year string) string {
	d, err := strconv.Atoi(strings.TrimSpace(day))
	if err != nil || d <= 0 {
		return ""
	}
	m, err := strconv.Atoi(strings.TrimSpace(month))
	if err != nil || m <= 0 {
		return ""
	}
	y := strings.TrimSpace(year)
	if _, err := strconv.Atoi(y); err != nil {
		return ""
	}
	return fmt.Sprintf("%s-%02d-%02d", y, m, d)
}
