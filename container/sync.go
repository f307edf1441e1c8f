package container

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/mfahub/container-backend/interfaces"
)

// ClientToken is one token descriptor reported by a client during
// synchronization: either a serial plus type, or a list of consecutive OTP
// values plus type for tokens the client cannot name yet.
type ClientToken struct {
	Serial string   `json:"serial,omitempty"`
	Type   string   `json:"type,omitempty"`
	OTP    []string `json:"otp,omitempty"`
}

// SyncInput is the client-reported container view.
type SyncInput struct {
	Container map[string]any `json:"container,omitempty"`
	Tokens    []ClientToken  `json:"tokens,omitempty"`
}

// SyncTokens is the token diff of a synchronization: serials the client
// must provision and per-token detail updates for tokens both sides share.
type SyncTokens struct {
	Add    []string         `json:"add"`
	Update []map[string]any `json:"update"`
}

// SyncResult is the server response of a synchronization round.
type SyncResult struct {
	Container any        `json:"container"`
	Tokens    SyncTokens `json:"tokens"`
}

// syncOptions vary the reconciliation between the generic and the
// smartphone variant.
type syncOptions struct {
	// containerEcho is the container attribute block echoed to the client.
	containerEcho any
	// fullTokenDetail echoes the complete token serialization instead of
	// just serial, type and counter.
	fullTokenDetail bool
	// hiddenTokenInfo lists token info sub-keys stripped from echoed
	// details.
	hiddenTokenInfo []string
}

// SynchronizeContainerDetails reconciles the client-reported token set with
// the server-side membership. The generic variant echoes only type and
// serial of the container.
func (b *Base) SynchronizeContainerDetails(ctx context.Context, client SyncInput, initialTransferAllowed bool) (*SyncResult, error) {
	return b.synchronize(ctx, client, initialTransferAllowed, syncOptions{
		containerEcho: map[string]any{"type": b.Type(), "serial": b.Serial()},
	})
}

// synchronize implements the reconciliation algorithm shared by all
// container types:
//
//  1. Client tokens without serial are resolved by OTP values; ambiguous or
//     unknown matches are dropped.
//  2. Tokens only the server knows must be provisioned on the client
//     ("add"); tokens both sides share get a detail update.
//  3. During a registration rollover ALL server tokens are re-provisioned
//     regardless of client overlap. This is a deliberate override.
//  4. On the first synchronization after registration (info flag
//     initial_synchronized == "False"), tokens only the client knows are
//     imported into the container, best effort.
func (b *Base) synchronize(ctx context.Context, client SyncInput, initialTransferAllowed bool, opts syncOptions) (*SyncResult, error) {
	serverSerials := b.TokenSerials()

	// Resolve serials for client tokens that only supplied OTP values.
	serialOTPMap := map[string][]string{}
	clientSerials := make([]string, 0, len(client.Tokens))
	for _, token := range client.Tokens {
		serial := token.Serial
		if serial == "" && len(token.OTP) > 0 {
			candidates, err := b.deps.Tokens.GetTokens(ctx, token.Type)
			if err != nil {
				return nil, err
			}
			matches, err := b.deps.Tokens.GetSerialByOTP(ctx, candidates, token.OTP)
			if err != nil {
				return nil, err
			}
			switch len(matches) {
			case 1:
				serial = matches[0]
				serialOTPMap[serial] = token.OTP
			case 0:
				b.log.Debug("No serial found for otp values, ignoring token")
			default:
				b.log.Debug("Multiple serials found for otp values, ignoring token")
			}
		}
		if serial != "" {
			clientSerials = append(clientSerials, serial)
		}
	}

	var missingSerials, sameSerials []string
	if b.record.Info[interfaces.InfoRegistrationState] == interfaces.RegistrationStateRollover {
		// Rollover re-provisions every token, the client overlap is
		// intentionally ignored.
		missingSerials = slices.Clone(serverSerials)
		sameSerials = []string{}
	} else {
		for _, serial := range serverSerials {
			if slices.Contains(clientSerials, serial) {
				sameSerials = append(sameSerials, serial)
			} else {
				missingSerials = append(missingSerials, serial)
			}
		}
	}
	if missingSerials == nil {
		missingSerials = []string{}
	}

	// One-time bulk import of client-side tokens after registration.
	if initialTransferAllowed && b.record.Info[interfaces.InfoInitialSynchronized] == "False" {
		if err := b.AddInfo(ctx, interfaces.InfoInitialSynchronized, "True"); err != nil {
			return nil, err
		}
		for _, serial := range clientSerials {
			if slices.Contains(serverSerials, serial) {
				continue
			}
			token, err := b.deps.Tokens.GetToken(ctx, serial)
			if err != nil {
				if errors.Is(err, interfaces.ErrResourceNotFound) {
					b.log.Info("Token from client does not exist on the server", slog.String("tokenSerial", serial))
					continue
				}
				return nil, err
			}
			if _, err := b.AddToken(ctx, token); err != nil {
				if errors.Is(err, interfaces.ErrParameter) {
					b.log.Info("Client token could not be added to the container",
						slog.String("tokenSerial", serial), "err", err)
					continue
				}
				return nil, err
			}
			// Echo the details of freshly imported tokens this round.
			sameSerials = append(sameSerials, serial)
		}
	}

	update := make([]map[string]any, 0, len(sameSerials))
	for _, serial := range sameSerials {
		token, err := b.deps.Tokens.GetToken(ctx, serial)
		if err != nil {
			// Sync never aborts because of one bad token entry.
			b.log.Warn("Failed to load token details during synchronization",
				slog.String("tokenSerial", serial), "err", err)
			continue
		}
		update = append(update, b.tokenUpdateEntry(token, serialOTPMap[serial], opts))
	}

	return &SyncResult{
		Container: opts.containerEcho,
		Tokens:    SyncTokens{Add: missingSerials, Update: update},
	}, nil
}

// tokenUpdateEntry builds one "update" entry from the token detail
// serialization. The internal "count" field is renamed to "counter" for the
// client, sensitive info sub-keys are stripped, and OTP values the client
// sent for serial resolution are echoed back so it can self-identify the
// token.
func (b *Base) tokenUpdateEntry(token interfaces.Token, otp []string, opts syncOptions) map[string]any {
	full := token.AsDict()

	var entry map[string]any
	if opts.fullTokenDetail {
		entry = make(map[string]any, len(full))
		for k, v := range full {
			entry[k] = v
		}
		if count, ok := entry["count"]; ok {
			entry["counter"] = count
			delete(entry, "count")
		}
		if info, ok := entry["info"].(map[string]any); ok && len(opts.hiddenTokenInfo) > 0 {
			cleaned := make(map[string]any, len(info))
			for k, v := range info {
				if !slices.Contains(opts.hiddenTokenInfo, k) {
					cleaned[k] = v
				}
			}
			entry["info"] = cleaned
		}
	} else {
		entry = map[string]any{"serial": full["serial"], "tokentype": full["tokentype"]}
		if count, ok := full["count"]; ok {
			entry["counter"] = count
		}
	}

	if len(otp) > 0 {
		entry["otp"] = otp
	}
	return entry
}
