package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xela07ax/msp-compliance-console/internal/console/service"
	"github.com/xela07ax/msp-compliance-console/internal/domain"
	"github.com/xela07ax/msp-compliance-console/internal/repository/postgres"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage console accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create an admin or customer account",
	Example: `  mspctl user add alice --email alice@msp.example --role admin --password-env ALICE_PW
  mspctl user add acme-viewer --email it@acme.example --role customer --customer "Acme Pty Ltd"`,
	Args: cobra.ExactArgs(1),
	RunE: runUserAdd,
}

var userAddFlags struct {
	email       string
	role        string
	customer    string
	passwordEnv string
}

func init() {
	f := userAddCmd.Flags()
	f.StringVar(&userAddFlags.email, "email", "", "account email (required)")
	f.StringVar(&userAddFlags.role, "role", string(domain.RoleCustomer), "admin or customer")
	f.StringVar(&userAddFlags.customer, "customer", "", "customer name or key for the customer role")
	f.StringVar(&userAddFlags.passwordEnv, "password-env", "MSP_USER_PASSWORD", "environment variable holding the password")
	_ = userAddCmd.MarkFlagRequired("email")

	userCmd.AddCommand(userAddCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	password, ok := lookupEnv(userAddFlags.passwordEnv)
	if !ok {
		return fmt.Errorf("password is not set: export %s", userAddFlags.passwordEnv)
	}

	ctx := cmd.Context()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	users := service.NewUserService(postgres.NewUserRepo(pool), cfg.Auth.BcryptCost, logger)
	u, err := users.Create(ctx, service.NewUser{
		Username:   args[0],
		Email:      userAddFlags.email,
		Password:   password,
		Role:       domain.Role(userAddFlags.role),
		CustomerID: userAddFlags.customer,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) id=%s\n", u.Username, u.Role, u.ID)
	if u.CustomerID != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "scoped to customer %q\n", *u.CustomerID)
	}
	return nil
}
