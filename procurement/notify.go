package procurement

import (
	"context"
	"log/slog"
)

type NotificationKind string

const (
	NotifyApprovalRequired  NotificationKind = "approval_required"
	NotifyCommitteeAssigned NotificationKind = "committee_assigned"
	NotifyRFQSent           NotificationKind = "rfq_sent"
	NotifyRFQReopened       NotificationKind = "rfq_reopened"
	NotifyAwarded           NotificationKind = "awarded"
	NotifyStandbyReady      NotificationKind = "standby_ready"
	NotifyPurchaseOrder     NotificationKind = "purchase_order_issued"
)

// Notification is one message for the email collaborator.
type Notification struct {
	Kind          NotificationKind
	RequisitionID RequisitionID
	UserIDs       []UserID
	VendorIDs     []VendorID
	Subject       string
	Body          string
}

// Notifier delivers notifications. The service calls it after commit and
// only logs failures.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to a logger instead of sending them.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	l.Logger.Info("notification",
		"kind", n.Kind,
		"requisition_id", n.RequisitionID,
		"users", n.UserIDs,
		"vendors", n.VendorIDs,
		"subject", n.Subject)
	return nil
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }
