package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dvilelaf/tsunami/pkg/clients"
)

type fakeMaker struct {
	prompts []string
	err     error
}

func (f *fakeMaker) MakeSong(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return "https://suno.com/song/abc", nil
}

func registryGraph() *fakeGraph {
	return &fakeGraph{responses: map[string]string{
		"units": `{"units":[
			{"tokenId":"10","publicId":"valory/trader:0.1.0","description":"Trades on Omen"},
			{"tokenId":"2","publicId":"valory/mech:0.1.0","description":"Runs tools"},
			{"tokenId":"9","publicId":"valory/optimus:0.1.0","description":"Optimises"}
		]}`,
	}}
}

func TestGenreForIsStable(t *testing.T) {
	g := GenreFor("9")
	require.Contains(t, MusicGenres, g)
	require.Equal(t, g, GenreFor("9"))
}

func TestAgentName(t *testing.T) {
	require.Equal(t, "trader", Agent{PublicID: "valory/trader:0.1.0"}.Name())
	require.Equal(t, "agent 4", Agent{TokenID: "4"}.Name())
}

func TestSongsPicksFirstAgentWithoutSong(t *testing.T) {
	maker := &fakeMaker{}
	composer := &echoComposer{}
	stage := NewSongs(registryGraph(), maker, SunoConfig{IntervalDays: 7}, composer, quietLogger())
	require.True(t, stage.LeaderOnly())

	env := newEnv(t, map[string]string{KeyPreviousSunoAgents: `["2"]`, KeySunoLastRun: "2024-04-20"})
	res, err := stage.Run(context.Background(), env)
	require.NoError(t, err)

	genre := GenreFor("9")
	require.Equal(t, []string{"Create a " + genre + " song about optimus, an agent on the Olas network: Optimises"}, maker.prompts)
	require.Equal(t, []string{"A new " + genre + " song has been created in honor of the optimus agent."}, composer.facts)
	require.Len(t, res.Posts, 1)
	last := res.Posts[0].Text[len(res.Posts[0].Text)-1]
	require.True(t, strings.HasSuffix(last, "https://suno.com/song/abc"))

	require.Equal(t, "2024-05-01", res.Writes[KeySunoLastRun])
	var history SongHistory
	require.NoError(t, json.Unmarshal([]byte(res.Writes[KeyPreviousSunoAgents]), &history))
	require.Equal(t, SongHistory{"2", "9"}, history)
}

func TestSongsWaitsForInterval(t *testing.T) {
	maker := &fakeMaker{}
	stage := NewSongs(registryGraph(), maker, SunoConfig{IntervalDays: 7}, &echoComposer{}, quietLogger())
	res, err := stage.Run(context.Background(), newEnv(t, map[string]string{KeySunoLastRun: "2024-04-25"}))
	require.NoError(t, err)
	require.Empty(t, maker.prompts)
	require.Empty(t, res.Writes)
}

func TestSongsAllAgentsServed(t *testing.T) {
	maker := &fakeMaker{}
	stage := NewSongs(registryGraph(), maker, SunoConfig{}, &echoComposer{}, quietLogger())
	res, err := stage.Run(context.Background(), newEnv(t, map[string]string{KeyPreviousSunoAgents: `["2","9","10"]`}))
	require.NoError(t, err)
	require.Empty(t, maker.prompts)
	require.Equal(t, map[string]string{KeySunoLastRun: "2024-05-01"}, res.Writes)
}

func TestSongsGenerationFailureRetriesNextPeriod(t *testing.T) {
	stage := NewSongs(registryGraph(), &fakeMaker{err: errors.New("quota")}, SunoConfig{}, &echoComposer{}, quietLogger())
	res, err := stage.Run(context.Background(), newEnv(t, nil))
	require.NoError(t, err)
	require.Empty(t, res.Writes)
}

func TestSunoClient(t *testing.T) {
	var body sunoRequest
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"clips":[{"id":"c1"},{"id":"c2"}]}`))
	}))
	defer srv.Close()

	url, err := NewSuno(srv.URL, StaticToken("jwt"), clients.WithoutRetries()).MakeSong(context.Background(), "a jazz song")
	require.NoError(t, err)
	require.Equal(t, "https://suno.com/song/c1", url)
	require.Equal(t, "/api/generate/v2/", path)
	require.Equal(t, "Bearer jwt", auth)
	require.Equal(t, "a jazz song", body.GPTDescriptionPrompt)
	require.Equal(t, "chirp-v3-0", body.Model)
}

func TestSunoSessionMintsAndRefreshesToken(t *testing.T) {
	var mints int
	var cookies, paths []string
	clerk := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mints++
		paths = append(paths, r.URL.Path)
		cookies = append(cookies, r.Header.Get("Cookie"))
		http.SetCookie(w, &http.Cookie{Name: "__client", Value: fmt.Sprintf("rotated%d", mints)})
		_, _ = fmt.Fprintf(w, `{"jwt":"jwt-%d"}`, mints)
	}))
	defer clerk.Close()

	session, err := NewSunoSession(SunoSessionConfig{
		ClerkURL:  clerk.URL,
		SessionID: "sess_1",
		Cookie:    "__client=orig; __client_uat=1",
		MaxAge:    time.Minute,
	}, clients.WithoutRetries())
	require.NoError(t, err)
	clock := now
	session.now = func() time.Time { return clock }

	token, err := session.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "jwt-1", token)

	// Reused while fresh.
	token, err = session.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "jwt-1", token)
	require.Equal(t, 1, mints)

	clock = clock.Add(2 * time.Minute)
	token, err = session.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "jwt-2", token)

	require.Equal(t, "/v1/client/sessions/sess_1/tokens", paths[0])
	require.Equal(t, "__client=orig; __client_uat=1", cookies[0])
	require.Equal(t, "__client=rotated1; __client_uat=1", cookies[1], "rotated cookies are sent on the next mint")
}

func TestSunoUnauthorizedDropsSessionToken(t *testing.T) {
	var mints int
	clerk := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mints++
		_, _ = fmt.Fprintf(w, `{"jwt":"jwt-%d"}`, mints)
	}))
	defer clerk.Close()

	var auths []string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		if len(auths) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"clips":[{"id":"c9"}]}`))
	}))
	defer api.Close()

	session, err := NewSunoSession(SunoSessionConfig{ClerkURL: clerk.URL, SessionID: "s", Cookie: "a=b"}, clients.WithoutRetries())
	require.NoError(t, err)
	suno := NewSuno(api.URL, session, clients.WithoutRetries())

	_, err = suno.MakeSong(context.Background(), "song")
	require.Error(t, err)
	url, err := suno.MakeSong(context.Background(), "song")
	require.NoError(t, err)
	require.Equal(t, "https://suno.com/song/c9", url)
	require.Equal(t, []string{"Bearer jwt-1", "Bearer jwt-2"}, auths)
}

func TestSunoSessionRejectsFailedMint(t *testing.T) {
	clerk := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer clerk.Close()
	session, err := NewSunoSession(SunoSessionConfig{ClerkURL: clerk.URL, SessionID: "s", Cookie: "a=b"}, clients.WithoutRetries())
	require.NoError(t, err)
	_, err = session.Token(context.Background())
	var apiErr *clients.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	_, err = NewSunoSession(SunoSessionConfig{SessionID: "s"})
	require.Error(t, err)
}
