package service

import (
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"
)

var academicYearPattern = regexp.MustCompile(`^(\d{4})-(\d{4})$`)

// validAcademicYear accepts "YYYY-YYYY" where the second year follows the first.
func validAcademicYear(value string) bool {
	m := academicYearPattern.FindStringSubmatch(value)
	if m == nil {
		return false
	}
	start, _ := strconv.Atoi(m[1])
	end, _ := strconv.Atoi(m[2])
	return end == start+1
}

func registerAdmissionValidators(v *validator.Validate) {
	v.RegisterValidation("academic_year", func(fl validator.FieldLevel) bool {
		return validAcademicYear(fl.Field().String())
	})
}
