package sessionkit_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/sessionkit"
)

func TestConcurrentSignInsCacheTheCurrentSession(t *testing.T) {
	const n = 16
	h := newHarness(t, withoutProvider())
	for i := 0; i < n; i++ {
		h.cfg.Embedded.Identities = append(h.cfg.Embedded.Identities, sessionkit.EmbeddedIdentity{
			Identifier: fmt.Sprintf("user%d@local", i),
			Secret:     "secret",
			Profile:    sessionkit.Profile{SubjectID: fmt.Sprintf("local-%d", i)},
		})
	}
	m := h.build()
	defer m.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.SignIn(ctx, fmt.Sprintf("user%d@local", i), "secret")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	current, ok := m.Current()
	require.True(t, ok)
	require.NoError(t, m.Close())

	restarted := h.build()
	defer restarted.Close()
	res := restarted.Initialize(ctx)
	require.Equal(t, sessionkit.StateAuthenticated, res.State)
	assert.Equal(t, current.ID, res.Session.ID)
	assert.Equal(t, current.SubjectID, res.Session.SubjectID)
}

func TestConcurrentSignOutAndSignInSettle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.m.SignIn(ctx, adminEmail, adminSecret)
			if err != nil {
				assert.ErrorIs(t, err, sessionkit.ErrSuperseded)
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, h.m.SignOut(ctx))
		}()
	}
	wg.Wait()

	// Whatever won, memory and the cache agree.
	_, authenticated := h.m.Current()
	assert.Equal(t, authenticated, h.cached())
	if authenticated {
		assert.Equal(t, sessionkit.StateAuthenticated, h.m.State())
	} else {
		assert.Equal(t, sessionkit.StateAnonymous, h.m.State())
	}
}
