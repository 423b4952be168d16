package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"

	"github.com/halcyon-surgical/portal/internal/domain"
	"github.com/halcyon-surgical/portal/internal/session"
)

// Settings holds the identity service credentials. Only APIKey is required;
// the admin credentials and OAuth client enable restore, revocation,
// companion records and code-based federated sign-in.
type Settings struct {
	APIKey          string
	ProjectID       string
	CredentialsPath string

	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURL  string
}

// Services is the wired identity stack.
type Services struct {
	Provider session.Provider
	Records  session.RecordWriter

	firestore *firestore.Client
}

// Close releases the Firestore client, if any.
func (s *Services) Close() error {
	if s.firestore == nil {
		return nil
	}
	return s.firestore.Close()
}

// Connect builds the identity stack from settings. Without an API key it
// returns the Unconfigured provider and no record writer.
func Connect(ctx context.Context, s Settings) (*Services, error) {
	if s.APIKey == "" {
		slog.Warn("Identity service not configured, sign-in disabled")
		return &Services{Provider: Unconfigured{}}, nil
	}

	svc, err := identitytoolkit.NewService(ctx, option.WithAPIKey(s.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create identity toolkit client: %w", err)
	}

	var opts []ProviderOption
	if s.OAuthClientID != "" {
		opts = append(opts, WithOAuth(&oauth2.Config{
			ClientID:     s.OAuthClientID,
			ClientSecret: s.OAuthClientSecret,
			RedirectURL:  s.OAuthRedirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		}))
		if s.OAuthRedirectURL != "" {
			opts = append(opts, WithRequestURI(s.OAuthRedirectURL))
		}
	}

	out := &Services{}
	if s.CredentialsPath != "" || s.ProjectID != "" {
		authClient, fs, err := initFirebase(ctx, s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithAdmin(authClient))
		if fs != nil {
			out.firestore = fs
			out.Records = NewFirestoreRecords(fs)
		}
	} else {
		slog.Warn("Firebase admin credentials not configured, session restore and user records disabled")
	}

	out.Provider = NewProvider(svc, opts...)
	return out, nil
}

func initFirebase(ctx context.Context, s Settings) (*auth.Client, *firestore.Client, error) {
	var opts []option.ClientOption
	if s.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(s.CredentialsPath))
	}

	var cfg *firebase.Config
	if s.ProjectID != "" {
		cfg = &firebase.Config{ProjectID: s.ProjectID}
	}

	app, err := firebase.NewApp(ctx, cfg, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize firebase: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("get firebase auth client: %w", err)
	}

	fs, err := app.Firestore(ctx)
	if err != nil {
		slog.Warn("Firestore unavailable, user records disabled", "error", err)
		return authClient, nil, nil
	}
	slog.Info("Firebase initialized", "project_id", s.ProjectID)
	return authClient, fs, nil
}

// UsersCollection is the Firestore collection holding companion user records.
const UsersCollection = "users"

// FirestoreRecords writes companion user records to Cloud Firestore.
type FirestoreRecords struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreRecords creates a writer over the users collection.
func NewFirestoreRecords(client *firestore.Client) *FirestoreRecords {
	return &FirestoreRecords{client: client, collection: UsersCollection}
}

var errMissingUID = errors.New("user record has no uid")

// WriteUser merges rec into users/<uid>.
func (f *FirestoreRecords) WriteUser(ctx context.Context, rec domain.UserRecord) error {
	if rec.UID == "" {
		return errMissingUID
	}
	_, err := f.client.Collection(f.collection).Doc(rec.UID).Set(ctx, map[string]interface{}{
		"uid":         rec.UID,
		"email":       rec.Email,
		"displayName": rec.DisplayName,
		"provider":    rec.Provider,
		"createdAt":   firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("write user record %s: %w", rec.UID, err)
	}
	return nil
}
