package registration

import (
	"context"

	"herfrequency/internal/apperr"
	"herfrequency/internal/dto"
)

const (
	ActionCreateRegistration = "create_registration"
	ActionConfirmPayment     = "confirm_payment"
)

// Action is one of the public registration requests. The set is closed: the
// only implementations are the types below, and Lifecycle must handle each of
// them to satisfy visitor.
type Action interface {
	Name() string
	accept(ctx context.Context, v visitor) (any, error)
}

type visitor interface {
	createRegistration(ctx context.Context, a CreateRegistration) (any, error)
	confirmPayment(ctx context.Context, a ConfirmPayment) (any, error)
}

type CreateRegistration struct {
	EventID   int64  `json:"eventId" validate:"positive"`
	FirstName string `json:"firstName" validate:"required,max=100,singleline"`
	LastName  string `json:"lastName" validate:"required,max=100,singleline"`
	Email     string `json:"email" validate:"required,max=255,email"`
	Phone     string `json:"phone" validate:"required,max=20,phone"`
}

func (CreateRegistration) Name() string { return ActionCreateRegistration }

func (a CreateRegistration) accept(ctx context.Context, v visitor) (any, error) {
	return v.createRegistration(ctx, a)
}

type ConfirmPayment struct {
	RegistrationID    string `json:"registrationId" validate:"required,uuid"`
	ConfirmationToken string `json:"confirmationToken" validate:"required,token"`
}

func (ConfirmPayment) Name() string { return ActionConfirmPayment }

func (a ConfirmPayment) accept(ctx context.Context, v visitor) (any, error) {
	return v.confirmPayment(ctx, a)
}

// DecodeAction turns a request body into its Action variant.
func DecodeAction(raw []byte) (Action, error) {
	name, err := dto.ActionName(raw)
	if err != nil {
		return nil, err
	}
	switch name {
	case ActionCreateRegistration:
		var a CreateRegistration
		if err := dto.DecodeParams(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	case ActionConfirmPayment:
		var a ConfirmPayment
		if err := dto.DecodeParams(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, apperr.Validation("action", "Invalid action")
}
