package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/notify"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

const (
	NotifyPaymentToolName = "notify_payment_mail"
	notifyPaymentSubject  = "Nueva solicitud de pago"
	notifyPaymentReply    = "¡Perfecto! Ya le avisé a un asesor. En breve se comunicará contigo para completar tu pago."
)

// NewNotifyPaymentHandler returns the handler that tells the business owners a
// customer wants to pay. Recipients come from the business profile, falling
// back to fallbackEmails.
func NewNotifyPaymentHandler(businesses store.BusinessRepo, notifier notify.Notifier, fallbackEmails []string) Handler {
	return Handler{
		Name:        NotifyPaymentToolName,
		Description: "Envía un correo electrónico al dueño del negocio notificando que un cliente quiere pagar.",
		Params: map[string]Param{
			"products":     {Type: "string", Description: "Los productos realizados por el cliente."},
			"price":        {Type: "number", Description: "El precio total del pedido."},
			"phone_number": {Type: "string", Description: "El número de teléfono del cliente."},
			"name":         {Type: "string", Description: "El nombre del cliente."},
			"cedula":       {Type: "string", Description: "La cédula del cliente."},
			"address":      {Type: "string", Description: "La dirección del cliente."},
			"city":         {Type: "string", Description: "La ciudad del cliente."},
		},
		Required: []string{"products", "price", "cedula", "address", "city"},
		Reply:    notifyPaymentReply,
		Run: func(ctx context.Context, inv Invocation, args map[string]any) (string, error) {
			b, err := businesses.GetBusiness(ctx, inv.BusinessID)
			if err != nil {
				return "", err
			}
			emails := b.Profile.NotifyEmails
			if len(emails) == 0 {
				emails = fallbackEmails
			}

			phone := stringArg(args, "phone_number")
			if phone == "" {
				phone = inv.PhoneNumber
			}
			var body strings.Builder
			body.WriteString("Un cliente ha solicitado realizar un pago. Los detalles del cliente son:\n")
			fmt.Fprintf(&body, "- Precio: %s\n", numberArg(args, "price"))
			fmt.Fprintf(&body, "- Productos: %s\n", stringArg(args, "products"))
			fmt.Fprintf(&body, "- Nombre: %s\n", stringArg(args, "name"))
			fmt.Fprintf(&body, "- Número de teléfono: %s\n", phone)
			fmt.Fprintf(&body, "- Cédula: %s\n", stringArg(args, "cedula"))
			fmt.Fprintf(&body, "- Dirección: %s\n", stringArg(args, "address"))
			fmt.Fprintf(&body, "- Ciudad: %s\n", stringArg(args, "city"))
			fmt.Fprintf(&body, "Negocio: %s", b.Name)

			err = notifier.Notify(ctx, notify.Notification{
				Subject:    notifyPaymentSubject,
				Body:       body.String(),
				Emails:     emails,
				SMSNumbers: b.Profile.NotifySMSNumbers,
			})
			if err != nil {
				return "", fmt.Errorf("failed to notify payment request: %w", err)
			}
			slog.Info("notify_payment_mail: owners notified", "businessID", inv.BusinessID, "phone", phone, "emails", len(emails))
			return fmt.Sprintf("Correo de notificación de pago enviado a %s", strings.Join(emails, ", ")), nil
		},
	}
}

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func numberArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case float64:
		return fmt.Sprintf("%.2f", v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
