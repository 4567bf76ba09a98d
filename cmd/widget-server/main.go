package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/heygen-widget/internal/logging"
	"github.com/fpang/heygen-widget/internal/secrets"
	"github.com/fpang/heygen-widget/internal/store"
	"github.com/fpang/heygen-widget/internal/upload"
)

// CLI flags
var (
	portFlag    int
	originsFlag []string
)

var rootCmd = &cobra.Command{
	Use:   "widget-server",
	Short: "Backend for the embeddable avatar video widget",
	Long: `Widget Server hosts the frame channel and REST API backing the
embeddable avatar video creation widget. Host pages connect over a
websocket, complete the READY/INIT handshake, and drive the avatar
selection and generation flow through session intents.

Examples:
  widget-server
  widget-server --port 9090
  widget-server --origin https://app.example.com --origin https://staging.example.com`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on")
	rootCmd.Flags().StringArrayVar(&originsFlag, "origin", nil,
		"Allowed host origin (repeatable; defaults to localhost origins)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// allowedOrigins resolves the origin allow-list: flags first, then the
// WIDGET_ALLOWED_ORIGINS env var, then localhost for local development.
func allowedOrigins() []string {
	if len(originsFlag) > 0 {
		return originsFlag
	}
	if env := os.Getenv("WIDGET_ALLOWED_ORIGINS"); env != "" {
		var origins []string
		for _, o := range strings.Split(env, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		return origins
	}
	return []string{
		fmt.Sprintf("http://localhost:%d", portFlag),
		fmt.Sprintf("http://127.0.0.1:%d", portFlag),
		"http://localhost:3000",
		"http://localhost:5173",
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()

	srv := &server{
		origins:     allowedOrigins(),
		callbackURL: os.Getenv("WIDGET_CALLBACK_URL"),
		sessions:    make(map[string]*session),
	}

	// AWS-backed pieces are optional: without a table the store is
	// in-memory, without a bucket recorded audio cannot be uploaded.
	tableName := os.Getenv("WIDGET_DYNAMO_TABLE")
	bucket := os.Getenv("WIDGET_AUDIO_BUCKET")
	needsAWS := tableName != "" || bucket != "" || os.Getenv("WIDGET_MASTER_KEY") == ""

	ctx := context.Background()
	if needsAWS {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("AWS config unavailable — running with local fallbacks")
		} else {
			log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
			if tableName != "" {
				srv.store = store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)
				log.Info().Str("table", tableName).Msg("DynamoDB store initialized")
			}
			if bucket != "" {
				srv.uploader = upload.NewS3Uploader(s3.NewFromConfig(cfg), bucket, cfg.Region)
				log.Info().Str("bucket", bucket).Msg("S3 audio uploader initialized")
			}
			if key, err := secrets.LoadKey(ctx, ssm.NewFromConfig(cfg)); err != nil {
				log.Warn().Err(err).Msg("Master key unavailable — credential storage disabled")
			} else if box, err := secrets.NewBox(key); err != nil {
				log.Warn().Err(err).Msg("Master key rejected — credential storage disabled")
			} else {
				srv.box = box
			}
		}
	} else if key, err := secrets.LoadKey(ctx, nil); err == nil {
		if box, err := secrets.NewBox(key); err == nil {
			srv.box = box
		}
	}

	if srv.store == nil {
		log.Warn().Msg("WIDGET_DYNAMO_TABLE not set — using in-memory store")
		srv.store = store.NewMemoryStore()
	}

	mux := http.NewServeMux()

	// Frame channel
	mux.HandleFunc("/api/frame", srv.handleFrame)

	// Session state and intents
	mux.HandleFunc("/api/session/", srv.handleSessionRoutes)

	// Organizations, credentials, jobs
	mux.HandleFunc("/api/organizations", srv.handleOrganizations)
	mux.HandleFunc("/api/credentials", srv.handleCredentials)
	mux.HandleFunc("/api/credentials/validate", srv.handleCredentialValidate)
	mux.HandleFunc("/api/credentials/decrypt", srv.handleCredentialDecrypt)
	mux.HandleFunc("/api/jobs", srv.handleJobs)
	mux.HandleFunc("/api/jobs/", srv.handleJobByID)

	// Audio upload and provider proxy
	mux.HandleFunc("/api/upload/audio", srv.handleUploadAudio)
	mux.HandleFunc("/api/heygen/proxy", srv.handleHeygenProxy)

	handler := withLogging(withCORS(srv.origins, mux))

	addr := fmt.Sprintf(":%d", portFlag)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
		srv.closeSessions()
	}()

	log.Info().Int("port", portFlag).Strs("origins", srv.origins).Msg("Starting widget server")

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// --- Middleware ---

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("API request")
		}
	})
}

func withCORS(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
