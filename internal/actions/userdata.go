package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/notify"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

const (
	StoreUserDataToolName = "store_user_data"
	storeUserDataReply    = "¡Gracias! Ya guardé tus datos."
)

const storeUserDataDescription = `Almacena información importante del usuario en la base de datos.
IMPORTANTE: Debes llamar a esta función cada vez que el usuario mencione:
- Su nombre o cómo se llama
- Cualquier condición médica o enfermedad que padezca
- Su correo electrónico
No es necesario que el usuario proporcione todos los campos; envía solo los campos que el usuario haya mencionado.`

// NewStoreUserDataHandler returns the handler that saves profile data the
// customer volunteered onto the current lead. Only supplied fields change.
func NewStoreUserDataHandler(leads store.LeadRepo) Handler {
	return Handler{
		Name:        StoreUserDataToolName,
		Description: storeUserDataDescription,
		Params: map[string]Param{
			"name":         {Type: "string", Description: "El nombre del usuario. Extráelo cuando el usuario lo mencione de cualquier forma (ej: 'me llamo X', 'soy X', etc.)"},
			"email":        {Type: "string", Description: "El correo electrónico del usuario. Extráelo cuando el usuario lo mencione."},
			"sickness":     {Type: "string", Description: "Cualquier enfermedad o condición médica que el usuario mencione padecer (ej: diabetes, hipertensión, etc.)"},
			"cedula":       {Type: "string", Description: "La cédula del usuario. Extráelo cuando el usuario lo mencione."},
			"direction":    {Type: "string", Description: "La dirección del usuario. Extráelo cuando el usuario lo mencione."},
			"phone_number": {Type: "string", Description: "El número de teléfono del usuario, debe iniciar con el código del país sin el '+'. Por defecto es 57."},
		},
		Required: []string{"phone_number"},
		Reply:    storeUserDataReply,
		Run: func(ctx context.Context, inv Invocation, args map[string]any) (string, error) {
			lead, err := leads.GetLead(ctx, inv.BusinessID, inv.PhoneNumber)
			if errors.Is(err, models.ErrLeadNotFound) {
				lead = &models.Lead{BusinessID: inv.BusinessID, PhoneNumber: inv.PhoneNumber}
			} else if err != nil {
				return "", err
			}

			updated := applyUserData(lead, args)
			if len(updated) == 0 {
				return "Sin datos nuevos", nil
			}
			if _, err := leads.UpdateLead(ctx, inv.BusinessID, *lead); err != nil {
				return "", fmt.Errorf("failed to update lead: %w", err)
			}
			slog.Info("store_user_data: lead updated", "businessID", inv.BusinessID, "phone", inv.PhoneNumber, "fields", updated)
			return "Usuario actualizado", nil
		},
	}
}

// applyUserData copies the non-empty arguments onto lead and returns the fields it changed.
func applyUserData(lead *models.Lead, args map[string]any) []string {
	var updated []string
	set := func(field string, dst *string, key string) {
		if v := stringArg(args, key); v != "" && v != *dst {
			*dst = v
			updated = append(updated, field)
		}
	}
	set("name", &lead.Name, "name")
	set("email", &lead.Email, "email")
	set("sickness", &lead.Sickness, "sickness")
	set("citizen_id", &lead.CitizenID, "cedula")
	set("address", &lead.Address, "direction")
	return updated
}

// RegisterDefaults registers the built-in handlers.
func RegisterDefaults(r *Registry, st store.Store, notifier notify.Notifier, fallbackEmails []string) {
	r.Register(NewNotifyPaymentHandler(st, notifier, fallbackEmails))
	r.Register(NewStoreUserDataHandler(st))
}
