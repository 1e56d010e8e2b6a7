package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	mware "github.com/meanishn/platform/internal/middleware"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for local testing",
	RunE: func(cmd *cobra.Command, _ []string) error {
		secret := viper.GetString("jwt_secret")
		if secret == "" {
			return errors.New("jwt_secret is required")
		}
		user, _ := cmd.Flags().GetString("user")
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		switch role {
		case mware.RoleCustomer, mware.RoleProvider, mware.RoleAdmin:
		default:
			return fmt.Errorf("unknown role %q", role)
		}

		token, err := mware.Sign([]byte(secret), user, role, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("user", "", "user id to put in the token")
	tokenCmd.Flags().String("role", mware.RoleCustomer, "customer | provider | admin")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
}
