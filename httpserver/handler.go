package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mfahub/container-backend/challenge"
	"github.com/mfahub/container-backend/container"
	"github.com/mfahub/container-backend/interfaces"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// HandlerConfig carries the protocol parameters the handlers inject into
// container operations.
type HandlerConfig struct {
	// ServerURL is the base URL of this server as reachable by devices.
	// Challenge scopes and registration URLs are derived from it.
	ServerURL string

	// RegistrationTTL is the registration link validity in minutes.
	RegistrationTTL int

	// ChallengeTTL is the synchronization challenge validity in minutes.
	ChallengeTTL int

	// SSLVerify tells devices whether to verify the server certificate.
	SSLVerify bool

	// Issuer names the issuing system inside registration URLs.
	Issuer string

	// AllowInitialTokenTransfer grants a one-time bulk token import on the
	// first synchronization after registration.
	AllowInitialTokenTransfer bool
}

// Handler processes HTTP requests for the container service.
type Handler struct {
	deps container.Deps
	cfg  HandlerConfig
	log  *slog.Logger
}

// NewHandler creates a new HTTP request handler.
func NewHandler(deps container.Deps, cfg HandlerConfig) *Handler {
	return &Handler{deps: deps, cfg: cfg, log: deps.Log}
}

// registrationScope is the endpoint registration challenges are bound to.
func (h *Handler) registrationScope() string {
	return h.cfg.ServerURL + "/container/register/finalize"
}

// synchronizeScope is the endpoint synchronization challenges are bound to.
func (h *Handler) synchronizeScope() string {
	return h.cfg.ServerURL + "/container/synchronize"
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		h.log.Debug("Failed to decode request body", "err", err)
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps domain sentinel errors onto HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, interfaces.ErrContainerNotFound),
		errors.Is(err, interfaces.ErrResourceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, interfaces.ErrParameter),
		errors.Is(err, interfaces.ErrInvalidChallenge),
		errors.Is(err, interfaces.ErrNotRegistered):
		status = http.StatusBadRequest
	case errors.Is(err, interfaces.ErrTokenAdmin):
		status = http.StatusConflict
	case errors.Is(err, interfaces.ErrNotImplemented):
		status = http.StatusMethodNotAllowed
	case errors.Is(err, interfaces.ErrBackendUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err)
		h.writeError(w, status, "internal server error")
		return
	}
	h.writeError(w, status, err.Error())
}

// InitContainerRequest creates a container, optionally assigning an owner
// and a template in the same call.
type InitContainerRequest struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Template    string `json:"template,omitempty"`

	User     string `json:"user,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Resolver string `json:"resolver,omitempty"`
	Realm    string `json:"realm,omitempty"`
}

// HandleInitContainer creates a new container.
//
// URL format: POST /container/init
func (h *Handler) HandleInitContainer(w http.ResponseWriter, r *http.Request) {
	var req InitContainerRequest
	if !h.decode(w, r, &req) {
		return
	}

	cont, err := container.CreateContainer(r.Context(), h.deps, req.Type, req.Description)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if req.User != "" {
		if _, err := cont.AddUser(r.Context(), interfaces.User{
			UserID:   req.UserID,
			Login:    req.User,
			Resolver: req.Resolver,
			Realm:    req.Realm,
		}); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}
	if req.Template != "" {
		if err := cont.SetTemplate(r.Context(), req.Template); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}

	h.log.Info("Created container",
		slog.String("serial", cont.Serial()), slog.String("type", cont.Type()))
	h.writeJSON(w, http.StatusOK, map[string]string{
		"serial": cont.Serial(),
		"type":   cont.Type(),
	})
}

// HandleGetContainer returns the public details of one container.
//
// URL format: GET /container/{serial}
func (h *Handler) HandleGetContainer(w http.ResponseWriter, r *http.Request) {
	cont, err := container.GetBySerial(r.Context(), h.deps, chi.URLParam(r, "serial"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cont.AsDict(true, true, nil))
}

// HandleDeleteContainer deletes a container and its outstanding
// challenges. Tokens survive as shared references.
//
// URL format: DELETE /container/{serial}
func (h *Handler) HandleDeleteContainer(w http.ResponseWriter, r *http.Request) {
	cont, err := container.GetBySerial(r.Context(), h.deps, chi.URLParam(r, "serial"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := cont.Delete(r.Context()); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// HandleContainerTypes lists the registered container types with their
// supported token types and option values.
//
// URL format: GET /container/types
func (h *Handler) HandleContainerTypes(w http.ResponseWriter, r *http.Request) {
	types := map[string]any{}
	for _, containerType := range container.Types() {
		desc, err := container.DescriptorFor(containerType)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		types[containerType] = map[string]any{
			"description": desc.Description,
			"token_types": desc.SupportedTokenTypes,
			"options":     desc.Options,
		}
	}
	h.writeJSON(w, http.StatusOK, types)
}

// InitRegistrationRequest starts (or rolls over) a device registration.
type InitRegistrationRequest struct {
	ContainerSerial    string            `json:"container_serial"`
	PassphraseAD       bool              `json:"passphrase_ad,omitempty"`
	PassphrasePrompt   string            `json:"passphrase_prompt,omitempty"`
	PassphraseResponse string            `json:"passphrase_response,omitempty"`
	Rollover           bool              `json:"rollover,omitempty"`
	ExtraData          map[string]string `json:"extra_data,omitempty"`
}

// HandleInitRegistration issues a registration offer for a container: a
// fresh challenge plus the scannable registration URL.
//
// URL format: POST /container/register/initialize
func (h *Handler) HandleInitRegistration(w http.ResponseWriter, r *http.Request) {
	var req InitRegistrationRequest
	if !h.decode(w, r, &req) {
		return
	}

	cont, err := container.GetBySerial(r.Context(), h.deps, req.ContainerSerial)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	data, err := cont.InitRegistration(r.Context(), container.InitRegistrationParams{
		ServerURL:          h.cfg.ServerURL,
		Scope:              h.registrationScope(),
		RegistrationTTL:    h.cfg.RegistrationTTL,
		SSLVerify:          h.cfg.SSLVerify,
		Issuer:             h.cfg.Issuer,
		Rollover:           req.Rollover,
		PassphraseAD:       req.PassphraseAD,
		PassphrasePrompt:   req.PassphrasePrompt,
		PassphraseResponse: req.PassphraseResponse,
		ExtraData:          req.ExtraData,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.log.Info("Initialized container registration",
		slog.String("serial", cont.Serial()), slog.Bool("rollover", req.Rollover))
	h.writeJSON(w, http.StatusOK, data)
}

// FinalizeRegistrationRequest is the signed registration response of the
// device.
type FinalizeRegistrationRequest struct {
	ContainerSerial string `json:"container_serial"`
	Signature       string `json:"signature"`
	PublicClientKey string `json:"public_client_key"`
	DeviceBrand     string `json:"device_brand,omitempty"`
	DeviceModel     string `json:"device_model,omitempty"`
}

// HandleFinalizeRegistration completes the device pairing. Verification
// failures report a generic invalid-challenge error without detail about
// which part failed.
//
// URL format: POST /container/register/finalize
func (h *Handler) HandleFinalizeRegistration(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRegistrationRequest
	if !h.decode(w, r, &req) {
		return
	}

	cont, err := container.GetBySerial(r.Context(), h.deps, req.ContainerSerial)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	result, err := cont.FinalizeRegistration(r.Context(), container.FinalizeRegistrationParams{
		Signature:            req.Signature,
		PublicClientKey:      req.PublicClientKey,
		Scope:                h.registrationScope(),
		DeviceBrand:          req.DeviceBrand,
		DeviceModel:          req.DeviceModel,
		InitialTokenTransfer: h.cfg.AllowInitialTokenTransfer,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.log.Info("Finalized container registration", slog.String("serial", cont.Serial()))
	h.writeJSON(w, http.StatusOK, result)
}

// TerminateRegistrationRequest unpairs a device from its container.
type TerminateRegistrationRequest struct {
	ContainerSerial string `json:"container_serial"`
}

// HandleTerminateRegistration removes the registration info of a
// container. Idempotent.
//
// URL format: POST /container/register/terminate
func (h *Handler) HandleTerminateRegistration(w http.ResponseWriter, r *http.Request) {
	var req TerminateRegistrationRequest
	if !h.decode(w, r, &req) {
		return
	}

	cont, err := container.GetBySerial(r.Context(), h.deps, req.ContainerSerial)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := cont.TerminateRegistration(r.Context()); err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.log.Info("Terminated container registration", slog.String("serial", cont.Serial()))
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ChallengeRequest asks for a fresh challenge bound to an endpoint scope.
type ChallengeRequest struct {
	ContainerSerial string `json:"container_serial"`
	Scope           string `json:"scope,omitempty"`
}

// HandleCreateChallenge issues a challenge for a signed follow-up request,
// by default bound to the synchronization endpoint.
//
// URL format: POST /container/challenge
func (h *Handler) HandleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if !h.decode(w, r, &req) {
		return
	}
	scope := req.Scope
	if scope == "" {
		scope = h.synchronizeScope()
	}

	cont, err := container.GetBySerial(r.Context(), h.deps, req.ContainerSerial)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	data, err := cont.CreateChallenge(r.Context(), scope, h.cfg.ChallengeTTL, challenge.Data{})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, data)
}

// SynchronizeRequest is a signed synchronization round. ContainerDict is
// the client's serialized container view exactly as bound into the signed
// message.
type SynchronizeRequest struct {
	ContainerSerial    string `json:"container_serial"`
	Signature          string `json:"signature"`
	PublicEncKeyClient string `json:"public_enc_key_client"`
	ContainerDict      string `json:"container_dict_client,omitempty"`
	DeviceBrand        string `json:"device_brand,omitempty"`
	DeviceModel        string `json:"device_model,omitempty"`
}

// HandleSynchronize verifies a signed synchronization request, reconciles
// the token sets and returns the result encrypted for the device. A
// completed rollover is promoted to the registered state afterwards.
//
// URL format: POST /container/synchronize
func (h *Handler) HandleSynchronize(w http.ResponseWriter, r *http.Request) {
	var req SynchronizeRequest
	if !h.decode(w, r, &req) {
		return
	}

	cont, err := container.GetBySerial(r.Context(), h.deps, req.ContainerSerial)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if _, err := cont.CheckChallengeResponse(r.Context(), container.CheckChallengeResponseParams{
		Signature:           req.Signature,
		PublicEncKeyClient:  req.PublicEncKeyClient,
		ContainerDictClient: req.ContainerDict,
		Scope:               h.synchronizeScope(),
		DeviceBrand:         req.DeviceBrand,
		DeviceModel:         req.DeviceModel,
	}); err != nil {
		h.writeDomainError(w, err)
		return
	}

	var input container.SyncInput
	if req.ContainerDict != "" {
		if err := json.Unmarshal([]byte(req.ContainerDict), &input); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid container_dict_client")
			return
		}
	}

	result, err := cont.SynchronizeContainerDetails(r.Context(), input, h.cfg.AllowInitialTokenTransfer)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	encrypted, err := cont.EncryptDict(r.Context(), result, container.EncryptDictParams{
		PublicEncKeyClient: req.PublicEncKeyClient,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	// The device has proven possession of the new key pair; a pending
	// rollover is complete.
	if finalizer, ok := cont.(container.RolloverFinalizer); ok {
		if err := finalizer.FinalizeRollover(r.Context()); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}
	if err := cont.UpdateLastSynchronization(r.Context()); err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.log.Info("Synchronized container", slog.String("serial", cont.Serial()))
	h.writeJSON(w, http.StatusOK, encrypted)
}
