package binder

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEgg is a minimal binder speaking the egg line protocol, enough
// to exercise the client end to end.
type fakeEgg struct {
	mu       sync.Mutex
	elements map[string]map[string]string
	authSeen string
}

func newFakeEgg() *fakeEgg {
	return &fakeEgg{elements: make(map[string]map[string]string)}
}

func (f *fakeEgg) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authSeen = r.Header.Get("Authorization")

	var out strings.Builder
	sc := bufio.NewScanner(r.Body)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		// :hx% ark:/<id>.<verb> [elem] [value]
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != ":hx%" {
			http.Error(w, "bad command", http.StatusBadRequest)
			return
		}
		target := fields[1]
		dot := strings.LastIndex(target, ".")
		id := Decode(strings.TrimPrefix(target[:dot], "ark:/"))
		verb := target[dot+1:]
		switch verb {
		case "fetch":
			f.writeFetch(&out, id)
		case "set":
			d := f.elements[id]
			if d == nil {
				d = make(map[string]string)
				f.elements[id] = d
			}
			d[Decode(fields[2])] = Decode(fields[3])
		case "rm":
			delete(f.elements[id], Decode(fields[2]))
		case "hold":
			// Reservation is binder-internal; nothing observable.
		case "purge":
			delete(f.elements, id)
		}
	}
	out.WriteString("egg-status: 0\n\n")
	fmt.Fprint(w, out.String())
}

// rawEncode is the binder's internal circumflex encoding used in
// fetch banner lines.
func rawEncode(s string) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		if c < 0x21 || c > 0x7e || c == '^' {
			fmt.Fprintf(&b, "^%02x", c)
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (f *fakeEgg) writeFetch(out *strings.Builder, id string) {
	d := f.elements[id]
	fmt.Fprintf(out, "# id: ark:/%s\n", rawEncode(id))
	for k, v := range d {
		fmt.Fprintf(out, "%s: %s\n", EncodeName(k), EncodeValue(v))
	}
	fmt.Fprintf(out, "# elements bound under ark:/%s: %d\n", rawEncode(id), len(d))
}

func newTestClient(t *testing.T) (*EggClient, *fakeEgg) {
	t.Helper()
	egg := newFakeEgg()
	srv := httptest.NewServer(egg)
	t.Cleanup(srv.Close)
	return NewEggClient(srv.URL, "bind", "secret"), egg
}

func TestEggClientRoundTrip(t *testing.T) {
	c, egg := newTestClient(t)
	ctx := context.Background()

	exists, err := c.Exists(ctx, "13030/foo")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, c.Hold(ctx, "13030/foo"))
	require.NoError(t, c.Set(ctx, "13030/foo", map[string]string{
		"erc.who":  "Smith, J.",
		"erc.what": "a thing",
		"_t":       "http://example.com/x",
	}))

	exists, err = c.Exists(ctx, "13030/foo")
	require.NoError(t, err)
	assert.True(t, exists)

	d, err := c.Get(ctx, "13030/foo")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"erc.who":  "Smith, J.",
		"erc.what": "a thing",
		"_t":       "http://example.com/x",
	}, d)

	assert.NotEmpty(t, egg.authSeen)
	assert.True(t, strings.HasPrefix(egg.authSeen, "Basic "))
}

func TestEggClientSetEmptyValueDeletes(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "13030/foo", map[string]string{
		"a": "1", "b": "2",
	}))
	require.NoError(t, c.Set(ctx, "13030/foo", map[string]string{
		"a": "", "c": "3",
	}))
	d, err := c.Get(ctx, "13030/foo")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "2", "c": "3"}, d)
}

func TestEggClientSetRejectsEmptyName(t *testing.T) {
	c, _ := newTestClient(t)
	err := c.Set(context.Background(), "13030/foo", map[string]string{"  ": "x"})
	assert.Error(t, err)
}

func TestEggClientDelete(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "b5060/foo", map[string]string{"a": "1"}))
	require.NoError(t, c.Delete(ctx, "b5060/foo"))

	exists, err := c.Exists(ctx, "b5060/foo")
	require.NoError(t, err)
	assert.False(t, exists)
	d, err := c.Get(ctx, "b5060/foo")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestEggClientFetchDecodesRawBanner(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	// The identifier travels percent-encoded on the wire, but the fetch
	// banner comes back in the binder's circumflex encoding.
	require.NoError(t, c.Set(ctx, "13030/f oo", map[string]string{"a": "1"}))
	d, err := c.Get(ctx, "13030/f oo")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1"}, d)
}

func TestEggClientFetchBannerMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "# id: ark:/13030/other\n"+
			"# elements bound under ark:/13030/other: 0\n"+
			"egg-status: 0\n\n")
	}))
	t.Cleanup(srv.Close)
	c := NewEggClient(srv.URL, "bind", "secret")
	_, err := c.Exists(context.Background(), "13030/foo")
	assert.Error(t, err)
}

func TestEggClientPing(t *testing.T) {
	c, _ := newTestClient(t)
	assert.Equal(t, "up", c.Ping(context.Background()))

	down := NewEggClient("http://127.0.0.1:1", "u", "p")
	assert.Equal(t, "down", down.Ping(context.Background()))
}

func TestMemMatchesStoreSemantics(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	exists, err := m.Exists(ctx, "13030/foo")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, m.Hold(ctx, "13030/foo"))
	exists, err = m.Exists(ctx, "13030/foo")
	require.NoError(t, err)
	assert.False(t, exists, "a held identifier without elements does not exist")

	require.NoError(t, m.Set(ctx, "13030/foo", map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, m.Set(ctx, "13030/foo", map[string]string{"a": "", "c": "3"}))
	d, err := m.Get(ctx, "13030/foo")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "2", "c": "3"}, d)

	require.NoError(t, m.Delete(ctx, "13030/foo"))
	d, err = m.Get(ctx, "13030/foo")
	require.NoError(t, err)
	assert.Nil(t, d)
}
