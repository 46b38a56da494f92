package approval

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func preview() SignTransaction {
	return SignTransaction{
		URL:           "https://app.example",
		Header:        "Claim rewards",
		Message:       "claim 3 positions",
		SerializedTxs: [][]byte{{1}, {2}},
	}
}

func waitPending(t *testing.T, b *Broker, n int) []PendingRequest {
	t.Helper()

	var list []PendingRequest
	require.Eventually(t, func() bool {
		list = b.Pending()
		return len(list) == n
	}, time.Second, time.Millisecond)

	return list
}

func TestBroker_Resolve(t *testing.T) {
	t.Parallel()

	for _, approved := range []bool{true, false} {
		b := NewBroker(&BrokerConfig{})

		result := make(chan bool, 1)
		go func() {
			ok, err := b.Show(context.Background(), preview())
			require.NoError(t, err)
			result <- ok
		}()

		list := waitPending(t, b, 1)
		require.Equal(t, KindSignTransaction, list[0].Kind)
		require.Equal(t, "Claim rewards: sign 2 transactions - claim 3 positions", list[0].Summary)

		require.NoError(t, b.Resolve(list[0].ID, approved))
		require.Equal(t, approved, <-result)
		require.Empty(t, b.Pending())
	}
}

func TestBroker_OverlappingRequestsAreIndependent(t *testing.T) {
	t.Parallel()

	b := NewBroker(&BrokerConfig{})

	results := make(chan string, 2)
	for _, header := range []string{"first", "second"} {
		go func() {
			req := preview()
			req.Header = header
			ok, _ := b.Show(context.Background(), req)
			if ok {
				results <- header
			} else {
				results <- "rejected"
			}
		}()
	}

	list := waitPending(t, b, 2)
	require.NotEqual(t, list[0].ID, list[1].ID)

	for _, p := range list {
		require.NoError(t, b.Resolve(p.ID, p.Request.(SignTransaction).Header == "second"))
	}

	got := []string{<-results, <-results}
	require.ElementsMatch(t, []string{"second", "rejected"}, got)
}

func TestBroker_ContextCancel(t *testing.T) {
	t.Parallel()

	b := NewBroker(&BrokerConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	go func() {
		ok, err := b.Show(ctx, preview())
		require.False(t, ok)
		errs <- err
	}()

	list := waitPending(t, b, 1)
	cancel()

	require.ErrorIs(t, <-errs, context.Canceled)
	require.ErrorIs(t, b.Resolve(list[0].ID, true), ErrUnknownRequest)
}

func TestBroker_ResolveUnknown(t *testing.T) {
	t.Parallel()

	b := NewBroker(&BrokerConfig{})
	require.ErrorIs(t, b.Resolve(uuid.New(), true), ErrUnknownRequest)
}

func TestBroker_MaxInFlight(t *testing.T) {
	t.Parallel()

	b := NewBroker(&BrokerConfig{MaxInFlight: 1})

	done := make(chan struct{}, 2)
	for range 2 {
		go func() {
			_, _ = b.Show(context.Background(), preview())
			done <- struct{}{}
		}()
	}

	first := waitPending(t, b, 1)
	// The second request waits for a slot and is not visible yet.
	time.Sleep(20 * time.Millisecond)
	require.Len(t, b.Pending(), 1)

	require.NoError(t, b.Resolve(first[0].ID, true))
	<-done

	second := waitPending(t, b, 1)
	require.NotEqual(t, first[0].ID, second[0].ID)
	require.NoError(t, b.Resolve(second[0].ID, false))
	<-done
}

func TestPolicy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ok, err := AutoApprove.Show(ctx, preview())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = AutoReject.Show(ctx, preview())
	require.NoError(t, err)
	require.False(t, ok)

	onlyTx := Policy{Approve: true, Kinds: []Kind{KindSignTransaction}}
	ok, _ = onlyTx.Show(ctx, preview())
	require.True(t, ok)
	ok, _ = onlyTx.Show(ctx, SignMessage{Header: "login", Message: []byte("hi")})
	require.False(t, ok)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = AutoApprove.Show(cancelled, preview())
	require.ErrorIs(t, err, context.Canceled)
}

func TestPrompt_Show(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	p := &Prompt{
		Out:     &out,
		confirm: func(string) (bool, error) { return true, nil },
	}

	ok, err := p.Show(context.Background(), SignAndSend{SignTransaction: preview()})
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, out.String(), "Claim rewards: sign and send 2 transactions")
	require.Contains(t, out.String(), "balances may change")
}

func TestPrompt_SuppressWarnings(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	p := &Prompt{Out: &out, confirm: func(string) (bool, error) { return false, nil }}

	req := preview()
	req.SuppressWarnings = true

	ok, err := p.Show(context.Background(), req)
	require.NoError(t, err)
	require.False(t, ok)
	require.NotContains(t, out.String(), "balances may change")
}

func TestPrompt_OneAtATime(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32
	p := &Prompt{
		Out: &bytes.Buffer{},
		confirm: func(string) (bool, error) {
			n := active.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return true, nil
		},
	}

	done := make(chan struct{}, 4)
	for range 4 {
		go func() {
			_, _ = p.Show(context.Background(), preview())
			done <- struct{}{}
		}()
	}
	for range 4 {
		<-done
	}

	require.Equal(t, int32(1), peak.Load())
}

func TestPrompt_ContextCancel(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)

	p := &Prompt{
		Out: &bytes.Buffer{},
		confirm: func(string) (bool, error) {
			<-block
			return true, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	ok, err := p.Show(ctx, preview())
	require.False(t, ok)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPrompt_AbandonedPromptKeepsTerminal(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})

	var calls atomic.Int32
	p := &Prompt{
		Out: &bytes.Buffer{},
		confirm: func(string) (bool, error) {
			if calls.Add(1) == 1 {
				<-block
				return true, nil
			}
			return false, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Show(ctx, preview())
	require.ErrorIs(t, err, context.DeadlineExceeded)

	type answer struct {
		ok  bool
		err error
	}
	next := make(chan answer, 1)
	go func() {
		ok, err := p.Show(context.Background(), preview())
		next <- answer{ok, err}
	}()

	require.Never(t, func() bool { return calls.Load() > 1 }, 30*time.Millisecond, 5*time.Millisecond)

	close(block)

	a := <-next
	require.NoError(t, a.err)
	require.False(t, a.ok)
	require.Equal(t, int32(2), calls.Load())
}
