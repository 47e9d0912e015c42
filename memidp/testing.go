package memidp

import (
	"github.com/MrEthical07/sessionkit"
	"golang.org/x/crypto/bcrypt"
)

// AddAccount registers a confirmed account with a profile and returns its subject ID.
func (p *Provider) AddAccount(email, secret string, profile sessionkit.Profile) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), p.bcryptCost)
	if err != nil {
		return "", err
	}
	email = normalize(email)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.accounts[email]; exists {
		return "", sessionkit.ErrIdentityExists
	}
	subjectID := profile.SubjectID
	if subjectID == "" {
		subjectID = "sub-" + email
	}
	p.accounts[email] = &account{subjectID: subjectID, email: email, hash: hash, confirmed: true}

	profile.SubjectID = subjectID
	if profile.Email == "" {
		profile.Email = email
	}
	if profile.Role == "" {
		profile.Role = sessionkit.RoleUser
	}
	p.profiles[subjectID] = profile
	return subjectID, nil
}

// Confirm marks the account for email as confirmed.
func (p *Provider) Confirm(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if acc := p.accounts[normalize(email)]; acc != nil {
		acc.confirmed = true
	}
}

// SetProfile replaces the stored profile for subjectID.
func (p *Provider) SetProfile(profile sessionkit.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[profile.SubjectID] = profile
}

// DeleteProfile removes the profile but keeps the account, which is the
// "authenticated but no profile" case.
func (p *Provider) DeleteProfile(subjectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.profiles, subjectID)
}

// SetCurrentSession makes CurrentSession report s and registers its token.
func (p *Provider) SetCurrentSession(s sessionkit.RemoteSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[s.AccessToken] = s.SubjectID
	p.current = &s
}

// Emit delivers ev to every registered listener synchronously.
func (p *Provider) Emit(ev sessionkit.AuthEvent) {
	p.mu.Lock()
	handlers := make([]func(sessionkit.AuthEvent), 0, len(p.listeners))
	for _, h := range p.listeners {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Listeners reports how many event listeners are registered.
func (p *Provider) Listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// InjectFault makes op fail with err. A nil err clears the fault.
func (p *Provider) InjectFault(op Op, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.faults, op)
		return
	}
	p.faults[op] = err
}

// Hold blocks op until the returned release function is called or the
// caller's context ends.
func (p *Provider) Hold(op Op) (release func()) {
	ch := make(chan struct{})
	p.mu.Lock()
	p.holds[op] = ch
	p.mu.Unlock()

	released := false
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if released {
			return
		}
		released = true
		close(ch)
		if p.holds[op] == ch {
			delete(p.holds, op)
		}
	}
}

// Waiting reports how many calls of op are currently blocked by Hold.
func (p *Provider) Waiting(op Op) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting[op]
}

// Code returns the outstanding code issued for email.
func (p *Provider) Code(email string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry := p.codes[normalize(email)]
	if entry == nil {
		return "", false
	}
	return entry.code, true
}

// Revoked returns the access tokens revoked so far, in order.
func (p *Provider) Revoked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

// Resends reports how many confirmation resends email received.
func (p *Provider) Resends(email string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resends[normalize(email)]
}

// Active reports whether accessToken is a live remote session.
func (p *Provider) Active(accessToken string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[accessToken]
	return ok
}
