package pricing

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func productValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		validate.RegisterStructValidation(priceBandValidation, PriceBand{})
	})
	return validate
}

func priceBandValidation(sl validator.StructLevel) {
	band, ok := sl.Current().Interface().(PriceBand)
	if !ok {
		return
	}
	if band.MaxMinor > 0 && band.MaxMinor < band.MinMinor {
		sl.ReportError(band.MaxMinor, "max_minor", "MaxMinor", "gtefield", "min_minor")
	}
}

// Validate checks a reference product. Failures wrap ErrInvalidProduct.
func (p ReferenceProduct) Validate() error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: id and title must not be blank", ErrInvalidProduct)
	}
	if err := productValidator().Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidProduct, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidProduct, err)
	}
	return nil
}
