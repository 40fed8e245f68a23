package google

import (
	"context"
	"fmt"
	"os"
	"strings"

	"tasksync/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Scopes used by the calendar and mailbox clients.
var Scopes = []string{
	calendar.CalendarEventsScope,
	gmail.GmailModifyScope,
	gmail.GmailLabelsScope,
}

// TokenSource picks the credentials for Google APIs: a static access token
// when configured, otherwise a service account key file (with optional
// domain-wide delegation), otherwise application default credentials.
func TokenSource(ctx context.Context, cfg config.GoogleConfig, scopes ...string) (oauth2.TokenSource, error) {
	if token := strings.TrimSpace(cfg.AccessToken); token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}), nil
	}

	if cfg.CredentialsFile != "" {
		// Читаем файл учетных данных сервисного аккаунта
		credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read credentials file: %w", err)
		}
		jwtConfig, err := google.JWTConfigFromJSON(credentialsJSON, scopes...)
		if err != nil {
			return nil, fmt.Errorf("unable to parse credentials: %w", err)
		}
		jwtConfig.Subject = cfg.Subject
		return jwtConfig.TokenSource(ctx), nil
	}

	ts, err := google.DefaultTokenSource(ctx, scopes...)
	if err != nil {
		return nil, fmt.Errorf("no google credentials configured: %w", err)
	}
	return ts, nil
}

// ClientOptions returns the options used to build production API clients.
func ClientOptions(ctx context.Context, cfg config.GoogleConfig) ([]option.ClientOption, error) {
	ts, err := TokenSource(ctx, cfg, Scopes...)
	if err != nil {
		return nil, err
	}
	return []option.ClientOption{option.WithTokenSource(ts)}, nil
}
