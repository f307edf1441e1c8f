package tokens

import (
	"context"
	"sync"

	"github.com/mfahub/container-backend/interfaces"
)

// MemoryToken is a static token record. OTPs holds the next expected OTP
// values in order, used for OTP-to-serial resolution during
// synchronization.
type MemoryToken struct {
	TokenSerial string
	TokenType   string
	Counter     int
	OTPs        []string
	Info        map[string]string
	Extra       map[string]any
}

func (t *MemoryToken) Serial() string { return t.TokenSerial }
func (t *MemoryToken) Type() string   { return t.TokenType }

// AsDict serializes the token with the token layer's field names: the
// event counter is exposed as "count", token info as an "info" sub-map.
func (t *MemoryToken) AsDict() map[string]any {
	dict := map[string]any{
		"serial":    t.TokenSerial,
		"tokentype": t.TokenType,
		"count":     t.Counter,
	}
	if len(t.Info) > 0 {
		info := make(map[string]any, len(t.Info))
		for k, v := range t.Info {
			info[k] = v
		}
		dict["info"] = info
	}
	for k, v := range t.Extra {
		dict[k] = v
	}
	return dict
}

// MemoryTokenService implements interfaces.TokenService over a fixed set
// of tokens.
type MemoryTokenService struct {
	mu     sync.RWMutex
	tokens map[string]*MemoryToken
	order  []string
}

// NewMemoryTokenService creates a token service with the given tokens.
func NewMemoryTokenService(toks ...*MemoryToken) *MemoryTokenService {
	s := &MemoryTokenService{tokens: map[string]*MemoryToken{}}
	for _, tok := range toks {
		s.AddToken(tok)
	}
	return s
}

// AddToken registers another token with the service.
func (s *MemoryTokenService) AddToken(tok *MemoryToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[tok.TokenSerial]; !exists {
		s.order = append(s.order, tok.TokenSerial)
	}
	s.tokens[tok.TokenSerial] = tok
}

func (s *MemoryTokenService) GetToken(ctx context.Context, serial string) (interfaces.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[serial]
	if !ok {
		return nil, interfaces.ErrResourceNotFound
	}
	return tok, nil
}

func (s *MemoryTokenService) GetTokens(ctx context.Context, tokenType string) ([]interfaces.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []interfaces.Token
	for _, serial := range s.order {
		tok := s.tokens[serial]
		if tokenType != "" && tok.TokenType != tokenType {
			continue
		}
		result = append(result, tok)
	}
	return result, nil
}

// GetSerialByOTP returns the serials among the candidates whose next OTP
// values match the provided consecutive sequence.
func (s *MemoryTokenService) GetSerialByOTP(ctx context.Context, candidates []interfaces.Token, otp []string) ([]string, error) {
	if len(otp) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var serials []string
	for _, candidate := range candidates {
		tok, ok := s.tokens[candidate.Serial()]
		if !ok {
			continue
		}
		if matchesWindow(tok.OTPs, otp) {
			serials = append(serials, tok.TokenSerial)
		}
	}
	return serials, nil
}

// matchesWindow reports whether otp occurs as a consecutive subsequence
// of the token's OTP window.
func matchesWindow(window, otp []string) bool {
	if len(otp) > len(window) {
		return false
	}
	for start := 0; start+len(otp) <= len(window); start++ {
		matched := true
		for i, value := range otp {
			if window[start+i] != value {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}
