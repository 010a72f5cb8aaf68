package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/sigec-csms/internal/service/auth"
)

// API bundles the operator handlers.
type API struct {
	Devices      *DeviceHandler
	Commands     *DeviceCommandHandler
	Profiles     *ProfileHandler
	Transactions *TransactionHandler
	Auth         *AuthHandler
}

// Register mounts the operator routes under router. Every route needs a valid
// bearer token; the role decides which ones it may use.
func (a *API) Register(router fiber.Router, tokens middleware.TokenValidator, rbac middleware.PermissionChecker, log *zap.Logger) {
	can := func(resource, action string) fiber.Handler {
		return middleware.RequirePermission(rbac, resource, action)
	}
	protected := router.Group("", middleware.AuthRequired(tokens, log))

	// Devices
	protected.Get("/devices", can(auth.ResourceDevices, auth.ActionRead), a.Devices.List)
	protected.Get("/devices/:id", can(auth.ResourceDevices, auth.ActionRead), a.Devices.Get)
	protected.Get("/devices/:id/status-summary", can(auth.ResourceDevices, auth.ActionRead), a.Devices.StatusSummary)
	protected.Post("/devices/:id/reset", can(auth.ResourceDevices, auth.ActionCommand), a.Commands.Reset)
	protected.Post("/devices/:id/availability", can(auth.ResourceDevices, auth.ActionCommand), a.Commands.ChangeAvailability)
	protected.Post("/devices/:id/variables/get", can(auth.ResourceDevices, auth.ActionRead), a.Commands.GetVariables)
	protected.Put("/devices/:id/variables", can(auth.ResourceDevices, auth.ActionCommand), a.Commands.SetVariables)
	protected.Post("/devices/:id/data-transfer", can(auth.ResourceDevices, auth.ActionCommand), a.Commands.DataTransfer)
	protected.Post("/devices/:id/trigger/:message", can(auth.ResourceDevices, auth.ActionCommand), a.Commands.TriggerMessage)

	// Transactions
	protected.Post("/devices/:id/remote-start", can(auth.ResourceTransactions, auth.ActionCommand), a.Commands.RemoteStart)
	protected.Post("/devices/:id/remote-stop", can(auth.ResourceTransactions, auth.ActionCommand), a.Commands.RemoteStop)
	protected.Get("/devices/:id/transactions", can(auth.ResourceTransactions, auth.ActionRead), a.Transactions.History)
	protected.Get("/transactions/orphaned", can(auth.ResourceTransactions, auth.ActionRead), a.Transactions.Orphans)
	protected.Get("/transactions/:id", can(auth.ResourceTransactions, auth.ActionRead), a.Transactions.Get)
	protected.Post("/transactions/:id/reconcile", can(auth.ResourceTransactions, auth.ActionManage), a.Transactions.Reconcile)

	// Smart charging
	protected.Get("/devices/:id/profiles", can(auth.ResourceProfiles, auth.ActionRead), a.Profiles.List)
	protected.Post("/devices/:id/profiles", can(auth.ResourceProfiles, auth.ActionCommand), a.Profiles.Install)
	protected.Delete("/devices/:id/profiles", can(auth.ResourceProfiles, auth.ActionCommand), a.Profiles.Clear)
	protected.Get("/devices/:id/limit", can(auth.ResourceProfiles, auth.ActionRead), a.Profiles.EffectiveLimit)

	// Certificates
	protected.Get("/devices/:id/certificates", can(auth.ResourceCertificates, auth.ActionRead), a.Commands.ListCertificates)
	protected.Post("/devices/:id/certificates", can(auth.ResourceCertificates, auth.ActionCommand), a.Commands.InstallCertificate)
	protected.Delete("/devices/:id/certificates", can(auth.ResourceCertificates, auth.ActionCommand), a.Commands.DeleteCertificate)

	// Offline allow-list
	protected.Get("/auth-list/:token", can(auth.ResourceAuthList, auth.ActionRead), a.Auth.CheckToken)
	protected.Put("/auth-list/:token", can(auth.ResourceAuthList, auth.ActionManage), a.Auth.AllowToken)
	protected.Delete("/auth-list/:token", can(auth.ResourceAuthList, auth.ActionManage), a.Auth.RevokeToken)

	// Operator tokens
	protected.Post("/auth/tokens", can(auth.ResourceAuthList, auth.ActionManage), a.Auth.IssueToken)
	protected.Post("/auth/logout", a.Auth.Logout)
}
