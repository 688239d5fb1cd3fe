package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emandor/labscan_service/internal/config"
	"github.com/emandor/labscan_service/internal/middleware"
	"github.com/emandor/labscan_service/internal/model"
	"github.com/emandor/labscan_service/internal/telemetry"
	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const sessionTTL = 7 * 24 * time.Hour

const googleUserinfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

type Registry struct {
	cfg   *config.Config
	db    *sqlx.DB
	rdb   *redis.Client
	oauth *oauth2.Config
}

func (r *Registry) Rdb() *redis.Client {
	return r.rdb
}

func (r *Registry) CookieName() string {
	return r.cfg.SessionCookieName
}

func NewRegistry(cfg *config.Config, db *sqlx.DB, rdb *redis.Client) *Registry {
	return &Registry{
		cfg: cfg, db: db, rdb: rdb,
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
	}
}

func (r *Registry) Logout(c *fiber.Ctx) error {
	sid := c.Cookies(r.cfg.SessionCookieName)
	if sid != "" {
		r.rdb.Del(c.UserContext(), middleware.SessionKey(sid))
		c.ClearCookie(r.cfg.SessionCookieName)
	}
	return c.SendString("ok")
}

func (r *Registry) Me(c *fiber.Ctx) error {
	uid, _ := middleware.UserIDFrom(c)
	var user model.User
	err := r.db.GetContext(c.UserContext(), &user, `
		SELECT id, provider, provider_id, email, name, picture, report_quota, report_used, created_at, updated_at
		FROM users WHERE id=? LIMIT 1`, uid)
	if err != nil {
		telemetry.L().Error().Err(err).Int64("user_id", uid).Msg("me_query_failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "db error"})
	}
	return c.JSON(user)
}

func (r *Registry) GoogleLogin(c *fiber.Ctx) error {
	telemetry.L().Info().
		Str("req_id", middleware.RequestIDFrom(c)).
		Msg("google_login_redirect")
	state := randomHex(16)
	c.Cookie(&fiber.Cookie{Name: "oauth_state", Value: state, HTTPOnly: true, Secure: r.secure(), SameSite: "Lax"})
	url := r.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
	return c.Redirect(url, http.StatusFound)
}

func (r *Registry) GoogleCallback(c *fiber.Ctx) error {
	rid := middleware.RequestIDFrom(c)
	log := telemetry.L().With().Str("req_id", rid).Logger()

	state := c.Cookies("oauth_state")
	if state == "" || state != c.Query("state") {
		log.Warn().Msg("oauth_state_mismatch")
		return c.Status(fiber.StatusBadRequest).SendString("bad state")
	}
	ctx := c.UserContext()
	tok, err := r.oauth.Exchange(ctx, c.Query("code"))
	if err != nil {
		log.Error().Err(err).Msg("oauth_exchange_failed")
		return c.Status(fiber.StatusBadRequest).SendString("exchange failed")
	}

	ui, err := fetchGoogleUserinfo(ctx, tok.AccessToken)
	if err != nil {
		log.Error().Err(err).Msg("oauth_userinfo_failed")
		return c.Status(fiber.StatusBadGateway).SendString("userinfo failed")
	}

	if !domainAllowed(ui.Email, r.cfg.OAuthAllowedDomains) {
		return c.Status(fiber.StatusForbidden).SendString("domain not allowed")
	}

	log.Info().Str("email", ui.Email).Str("sub", ui.Sub).Msg("login_userinfo")

	userID, err := upsertUser(ctx, r.db, ui, r.cfg.ReportQuota)
	if err != nil {
		log.Error().Err(err).Msg("user_upsert_failed")
		return c.Status(fiber.StatusInternalServerError).SendString("db error")
	}
	log.Info().Int64("user_id", userID).Msg("user_upserted")

	sessID := randomHex(16)
	saveSessionDB(ctx, r.db, sessID, userID, c.IP(), string(c.Request().Header.UserAgent()))

	if err := r.rdb.Set(ctx, middleware.SessionKey(sessID), userID, sessionTTL).Err(); err != nil {
		log.Error().Err(err).Msg("session_store_failed")
		return c.Status(fiber.StatusInternalServerError).SendString("session error")
	}

	c.Cookie(&fiber.Cookie{
		Name: r.cfg.SessionCookieName, Value: sessID, HTTPOnly: true, SameSite: "Lax",
		Secure: r.secure(), MaxAge: int(sessionTTL.Seconds()),
	})
	redir := c.Query("redirect")
	if redir == "" {
		redir = r.cfg.ClientURL + "/login"
	}
	return c.Redirect(redir, http.StatusFound)
}

func (r *Registry) secure() bool { return r.cfg.AppEnv == "prod" }

func domainAllowed(email string, domains []string) bool {
	if len(domains) == 0 {
		return true
	}
	email = strings.ToLower(email)
	for _, d := range domains {
		if strings.HasSuffix(email, "@"+strings.ToLower(d)) {
			return true
		}
	}
	return false
}

func randomHex(n int) string { b := make([]byte, n); rand.Read(b); return hex.EncodeToString(b) }

type googleUserInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func fetchGoogleUserinfo(ctx context.Context, accessToken string) (*googleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleUserinfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}
	var ui googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&ui); err != nil {
		return nil, err
	}
	if ui.Sub == "" {
		return nil, fmt.Errorf("userinfo missing sub")
	}
	return &ui, nil
}

// upsertUser seeds report_quota on first login only; later logins keep the stored quota.
func upsertUser(ctx context.Context, db *sqlx.DB, ui *googleUserInfo, quota int) (int64, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO users (provider, provider_id, email, name, picture, report_quota, report_used, last_login_at, created_at, updated_at)
		VALUES ('google', ?, ?, ?, ?, ?, 0, NOW(), NOW(), NOW())
		ON DUPLICATE KEY UPDATE
			email = VALUES(email),
			name = VALUES(name),
			picture = VALUES(picture),
			last_login_at = NOW(),
			updated_at = NOW(),
			id = LAST_INSERT_ID(id)
	`, ui.Sub, ui.Email, ui.Name, ui.Picture, quota)
	if err != nil {
		return 0, fmt.Errorf("upsert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err == nil && id != 0 {
		return id, nil
	}
	var fetched int64
	if err := db.GetContext(ctx, &fetched, `SELECT id FROM users WHERE provider='google' AND provider_id=? LIMIT 1`, ui.Sub); err != nil {
		return 0, fmt.Errorf("fetch user id: %w", err)
	}
	return fetched, nil
}

func saveSessionDB(ctx context.Context, db *sqlx.DB, sid string, userID int64, ip, ua string) {
	_, err := db.ExecContext(ctx, `INSERT INTO user_sessions(id,user_id,ip,user_agent) VALUES(?,?,?,?)`,
		sid, userID, ip, ua)
	if err != nil {
		telemetry.L().Error().Err(err).Int64("user_id", userID).Str("session_id", sid).Msg("session_persist_failed")
	}
}
