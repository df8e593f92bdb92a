package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/frahmantamala/thematic-predictions/internal/auth"

	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative helpers",
}

var adminTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin bearer token",
	Long:  `Sign an RS256 token with role admin using security.jwt_private_key.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		if cfg.Security.JWTPrivateKey == "" {
			log.Fatal("security.jwt_private_key is required to issue tokens")
		}

		if tokenTTL > 0 {
			cfg.Security.AdminTokenDuration = tokenTTL
		}

		generator, err := auth.NewRSATokenGenerator(cfg.Security)
		if err != nil {
			log.Fatalf("failed to load admin keys: %v", err)
		}

		token, expiresAt, err := generator.GenerateToken(tokenSubject, auth.RoleAdmin)
		if err != nil {
			log.Fatalf("failed to sign token: %v", err)
		}

		fmt.Println(token)
		fmt.Println("expires at:", expiresAt.Format(time.RFC3339))
	},
}

var (
	tokenSubject string
	tokenTTL     time.Duration
)

func init() {
	adminTokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Token subject")
	adminTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (overrides security.admin_token_duration)")

	adminCmd.AddCommand(adminTokenCmd)
	rootCmd.AddCommand(adminCmd)
}
