// Package oauth provides OAuth2 authentication flows for Gmail.
package oauth

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes requested for imports. Imports never modify the mailbox.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
}

// ErrNoToken is returned when an account has not been authorized yet.
var ErrNoToken = errors.New("account not authorized")

const callbackPath = "/callback"

// Manager handles OAuth2 token acquisition and storage.
type Manager struct {
	config    *oauth2.Config
	tokensDir string
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
}

// NewManager creates an OAuth manager from a Google client secrets file.
func NewManager(clientSecretsPath, tokensDir string, logger *slog.Logger) (*Manager, error) {
	if clientSecretsPath == "" {
		return nil, fmt.Errorf("oauth.client_secrets is not configured")
	}
	data, err := os.ReadFile(clientSecretsPath)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}
	config, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}
	return newManager(config, tokensDir, logger), nil
}

func newManager(config *oauth2.Config, tokensDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:    config,
		tokensDir: tokensDir,
		logger:    logger,
		in:        os.Stdin,
		out:       os.Stdout,
	}
}

// TokenSource returns an auto-refreshing token source for the account.
// Refreshed tokens are written back to disk.
func (m *Manager) TokenSource(ctx context.Context, email string) (oauth2.TokenSource, error) {
	token, err := m.loadToken(email)
	if err != nil {
		return nil, err
	}
	return &savingSource{
		base:  m.config.TokenSource(ctx, token),
		last:  token.AccessToken,
		save:  func(t *oauth2.Token) error { return m.saveToken(email, t) },
		email: email,
		log:   m.logger,
	}, nil
}

// savingSource persists a token whenever the wrapped source rotates it.
type savingSource struct {
	base  oauth2.TokenSource
	save  func(*oauth2.Token) error
	email string
	log   *slog.Logger

	mu   sync.Mutex
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	t, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token for %s: %w", s.email, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.AccessToken != s.last {
		s.last = t.AccessToken
		if err := s.save(t); err != nil {
			s.log.Warn("failed to save refreshed token", "email", s.email, "error", err)
		}
	}
	return t, nil
}

// HasToken checks if a token exists for the given email.
func (m *Manager) HasToken(email string) bool {
	_, err := m.loadToken(email)
	return err == nil
}

// Authorize performs the OAuth flow for a new account.
// If headless is true, the user completes the flow on another machine and
// pastes the redirect URL; otherwise a browser is opened.
func (m *Manager) Authorize(ctx context.Context, email string, headless bool) error {
	var token *oauth2.Token
	var err error
	if headless {
		token, err = m.manualFlow(ctx)
	} else {
		token, err = m.browserFlow(ctx)
	}
	if err != nil {
		return err
	}
	return m.saveToken(email, token)
}

// callbackHandler delivers the authorization code of a matching state.
// Only the first outcome is delivered; later requests are answered but
// dropped.
func callbackHandler(expectedState string, codeChan chan<- string, errChan chan<- error) http.HandlerFunc {
	fail := func(w http.ResponseWriter, status int, err error) {
		select {
		case errChan <- err:
		default:
		}
		http.Error(w, err.Error(), status)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != expectedState {
			fail(w, http.StatusBadRequest, fmt.Errorf("state mismatch: possible CSRF attack"))
			return
		}
		if e := q.Get("error"); e != "" {
			fail(w, http.StatusForbidden, fmt.Errorf("authorization denied: %s", e))
			return
		}
		code := q.Get("code")
		if code == "" {
			fail(w, http.StatusBadRequest, fmt.Errorf("no authorization code received"))
			return
		}
		select {
		case codeChan <- code:
		default:
		}
		fmt.Fprint(w, "Authorization successful! You can close this window.")
	}
}

// browserFlow runs the loopback redirect flow with PKCE.
func (m *Manager) browserFlow(ctx context.Context) (*oauth2.Token, error) {
	state, err := newState()
	if err != nil {
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for callback: %w", err)
	}

	codeChan := make(chan string, 1)
	errChan := make(chan error, 2)

	mux := http.NewServeMux()
	mux.Handle(callbackPath, callbackHandler(state, codeChan, errChan))
	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	defer func() { _ = server.Shutdown(context.WithoutCancel(ctx)) }()

	cfg := *m.config
	cfg.RedirectURL = fmt.Sprintf("http://%s%s", ln.Addr().String(), callbackPath)
	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier))

	fmt.Fprintf(m.out, "Opening browser for authorization...\n")
	fmt.Fprintf(m.out, "If browser doesn't open, visit:\n%s\n\n", authURL)
	if err := openBrowser(authURL); err != nil {
		m.logger.Warn("failed to open browser", "error", err)
	}

	select {
	case code := <-codeChan:
		return cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// headlessCallback is the redirect target in headless mode. Nothing
// listens there; the user copies the failed redirect URL back.
const headlessCallback = "http://127.0.0.1:1" + callbackPath

// manualFlow authorizes on another machine: the user opens the printed URL,
// approves, and pastes the URL the browser was redirected to.
func (m *Manager) manualFlow(ctx context.Context) (*oauth2.Token, error) {
	state, err := newState()
	if err != nil {
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	cfg := *m.config
	cfg.RedirectURL = headlessCallback
	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier))

	fmt.Fprintf(m.out, "\nOpen this URL in a browser on any machine:\n\n  %s\n\n", authURL)
	fmt.Fprintf(m.out, "After approving, the browser fails to load a 127.0.0.1 page.\n")
	fmt.Fprintf(m.out, "Paste that page's full URL here: ")

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(m.in).ReadString('\n')
		lines <- line
	}()

	var line string
	select {
	case line = <-lines:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	code, err := codeFromRedirect(line, state)
	if err != nil {
		return nil, err
	}
	return cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
}

// codeFromRedirect extracts the authorization code from a pasted redirect
// URL, checking its state.
func codeFromRedirect(raw, state string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse redirect URL: %w", err)
	}
	q := u.Query()
	if q.Get("state") != state {
		return "", fmt.Errorf("state mismatch: paste the URL from this authorization attempt")
	}
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("authorization denied: %s", e)
	}
	code := q.Get("code")
	if code == "" {
		return "", fmt.Errorf("no authorization code in URL")
	}
	return code, nil
}

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// tokenFile wraps a token with the scopes it was granted for.
type tokenFile struct {
	oauth2.Token
	Scopes []string `json:"scopes,omitempty"`
}

func (m *Manager) loadToken(email string) (*oauth2.Token, error) {
	data, err := os.ReadFile(m.tokenPath(email))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoToken, email)
	}
	if err != nil {
		return nil, err
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse token for %s: %w", email, err)
	}
	return &tf.Token, nil
}

// saveToken atomically writes the token file with owner-only permissions.
func (m *Manager) saveToken(email string, token *oauth2.Token) error {
	if err := os.MkdirAll(m.tokensDir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tokenFile{Token: *token, Scopes: m.config.Scopes}, "", "  ")
	if err != nil {
		return err
	}

	path := m.tokenPath(email)
	tmp, err := os.CreateTemp(m.tokensDir, ".token-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// tokenPath maps an email to a file inside tokensDir. Separators and ".."
// are neutralized; anything still escaping falls back to a hashed name.
func (m *Manager) tokenPath(email string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(email)
	path := filepath.Clean(filepath.Join(m.tokensDir, safe+".json"))

	dir := filepath.Clean(m.tokensDir)
	if filepath.Dir(path) != dir {
		return filepath.Join(dir, fmt.Sprintf("%x.json", sha256.Sum256([]byte(email))))
	}
	return path
}

// DeleteToken removes the token file for the given email.
func (m *Manager) DeleteToken(email string) error {
	err := os.Remove(m.tokenPath(email))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// openBrowser opens the default browser to the given URL.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}
