package api

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/model"
)

var mobilePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)

type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("mobile", func(fl validator.FieldLevel) bool {
		return mobilePattern.MatchString(fl.Field().String())
	})
	return &requestValidator{v: v}
}

// Struct reports the first failing field as invalid_input.
func (rv *requestValidator) Struct(s any) error {
	err := rv.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperr.New(apperr.CodeInvalidInput, "invalid field "+fe.Field()+" ("+fe.Tag()+")").
			WithMeta("field", fe.Field())
	}
	return apperr.Wrap(err, apperr.CodeInvalidInput, "invalid request")
}

// resourceFields are shared by price calculation and order creation. Pointers
// tell an absent field apart from an explicit zero.
type resourceFields struct {
	CPU       *int `json:"cpu"`
	Memory    *int `json:"memory"`
	Disk      *int `json:"disk"`
	Bandwidth *int `json:"bandwidth"`
	Ports     *int `json:"ports"`
	Months    *int `json:"months"`
}

func (f resourceFields) missing() []string {
	var out []string
	for _, c := range []struct {
		name string
		v    *int
	}{
		{"cpu", f.CPU}, {"memory", f.Memory}, {"disk", f.Disk},
		{"bandwidth", f.Bandwidth}, {"ports", f.Ports}, {"months", f.Months},
	} {
		if c.v == nil {
			out = append(out, c.name)
		}
	}
	return out
}

func (f resourceFields) configuration() model.ResourceConfiguration {
	return model.ResourceConfiguration{
		CPU:       *f.CPU,
		Memory:    *f.Memory,
		Disk:      *f.Disk,
		Bandwidth: *f.Bandwidth,
		Ports:     *f.Ports,
	}
}

type calculateRequest struct {
	resourceFields
}

type customerInfoRequest struct {
	Name  string `json:"name" validate:"omitempty,max=100"`
	Phone string `json:"phone" validate:"omitempty,mobile"`
	Email string `json:"email" validate:"omitempty,email,max=254"`
}

type createOrderRequest struct {
	ServerID *int `json:"serverId"`
	resourceFields
	CustomerInfo *customerInfoRequest `json:"customerInfo"`
}

func (r createOrderRequest) missing() []string {
	var out []string
	if r.ServerID == nil {
		out = append(out, "serverId")
	}
	out = append(out, r.resourceFields.missing()...)
	if r.CustomerInfo == nil {
		out = append(out, "customerInfo")
	}
	return out
}

func missingParameters(fields []string) error {
	return apperr.New(apperr.CodeMissingParameters, "missing required fields: "+strings.Join(fields, ", "))
}

type verifyCaptchaRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type commandRequest struct {
	Command string `json:"command" validate:"required,max=1000"`
}

type portRequest struct {
	Port int `json:"port" validate:"min=1,max=65535"`
}

type batchRequest struct {
	InstanceIDs []string `json:"instanceIds" validate:"required,min=1,max=100,dive,required"`
	Operation   string   `json:"operation" validate:"required"`
}

type createPanelUserRequest struct {
	UserName   string `json:"userName" validate:"required,max=64"`
	Password   string `json:"password" validate:"required,min=6"`
	Permission int    `json:"permission" validate:"gte=0"`
}

type bindRequest struct {
	Permissions []string `json:"permissions"`
}

type createPaymentRequest struct {
	OrderID       string  `json:"orderId"`
	PaymentMethod string  `json:"paymentMethod"`
	Amount        float64 `json:"amount" validate:"gte=0"`
	Description   string  `json:"description" validate:"max=128"`
}
