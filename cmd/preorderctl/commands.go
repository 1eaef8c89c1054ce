package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	server string
	token  string
}

func (o *rootOptions) client() (*apiClient, error) {
	if o.token == "" {
		return nil, fmt.Errorf("admin token is required (--token or PREORDER_ADMIN_TOKEN)")
	}
	return newAPIClient(o.server, o.token), nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "preorderctl",
		Short:         "Operate the preorder service: invoices, queue, pollers and sessions",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("PREORDER_SERVER", "http://localhost:8080"), "Base URL of the preorder admin API")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("PREORDER_ADMIN_TOKEN"), "Admin API bearer token")

	rootCmd.AddCommand(invoiceCmd(opts))
	rootCmd.AddCommand(orderCmd(opts))
	rootCmd.AddCommand(queueCmd(opts))
	rootCmd.AddCommand(recoveryCmd(opts))
	rootCmd.AddCommand(pollersCmd(opts))
	rootCmd.AddCommand(reconciliationCmd(opts))
	rootCmd.AddCommand(sessionCmd(opts))
	rootCmd.AddCommand(variantsCmd(opts))
	rootCmd.AddCommand(balanceCmd(opts))

	return rootCmd
}

func invoiceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Create and inspect gateway invoices",
	}

	var req struct {
		UserID        int64  `json:"user_id"`
		Username      string `json:"username"`
		VariantID     string `json:"variant_id"`
		Quantity      int    `json:"quantity"`
		PaymentMethod string `json:"payment_method"`
	}
	create := &cobra.Command{
		Use:   "create",
		Short: "Open a gateway payment for a user and start polling it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodPost, "/invoices", req, nil)
		},
	}
	create.Flags().Int64Var(&req.UserID, "user", 0, "Chat user id")
	create.Flags().StringVar(&req.Username, "username", "", "Chat username")
	create.Flags().StringVar(&req.VariantID, "variant", "", "Product variant id")
	create.Flags().IntVar(&req.Quantity, "quantity", 1, "Quantity to reserve")
	create.Flags().StringVar(&req.PaymentMethod, "method", "", "Payment method, e.g. LTC or BTC")
	_ = create.MarkFlagRequired("user")
	_ = create.MarkFlagRequired("variant")

	get := &cobra.Command{
		Use:   "get [invoice-id]",
		Short: "Show an invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodGet, "/invoices/"+url.PathEscape(args[0]), nil, nil)
		},
	}

	cmd.AddCommand(create, get)
	return cmd
}

func orderCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Balance orders and delivery",
	}

	var req struct {
		UserID    int64  `json:"user_id"`
		Username  string `json:"username"`
		VariantID string `json:"variant_id"`
		Quantity  int    `json:"quantity"`
	}
	var idempotencyKey string
	balance := &cobra.Command{
		Use:   "balance",
		Short: "Pay for an order from the user's stored balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodPost, "/orders/balance", req, map[string]string{
				"Idempotency-Key": idempotencyKey,
			})
		},
	}
	balance.Flags().Int64Var(&req.UserID, "user", 0, "Chat user id")
	balance.Flags().StringVar(&req.Username, "username", "", "Chat username")
	balance.Flags().StringVar(&req.VariantID, "variant", "", "Product variant id")
	balance.Flags().IntVar(&req.Quantity, "quantity", 1, "Quantity to reserve")
	balance.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Key that makes retries return the original order")
	_ = balance.MarkFlagRequired("user")
	_ = balance.MarkFlagRequired("variant")

	deliver := &cobra.Command{
		Use:   "deliver [invoice-id]",
		Short: "Mark an order delivered, removing it from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodPost, "/orders/"+url.PathEscape(args[0])+"/deliver", nil, nil)
		},
	}

	cmd.AddCommand(balance, deliver)
	return cmd
}

func queueCmd(opts *rootOptions) *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the delivery queue, or one user's position in it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID > 0 {
				return call(cmd, opts, http.MethodGet, "/queue/"+strconv.FormatInt(userID, 10), nil, nil)
			}
			return call(cmd, opts, http.MethodGet, "/queue", nil, nil)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "Only show this user's position")
	return cmd
}

func recoveryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recovery",
		Short: "Invoice recovery",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "scan",
		Short: "Relaunch pollers for invoices still awaiting payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodPost, "/recovery/scan", nil, nil)
		},
	})
	return cmd
}

func pollersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pollers",
		Short: "List running invoice pollers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodGet, "/pollers", nil, nil)
		},
	}
}

func reconciliationCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconciliation",
		Short: "List paid invoices that have no order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodGet, "/reconciliation", nil, nil)
		},
	}
}

func sessionCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage user logins",
	}

	var login struct {
		Email     string `json:"email"`
		Token     string `json:"token,omitempty"`
		OTP       string `json:"otp,omitempty"`
		Recaptcha string `json:"recaptcha,omitempty"`
	}
	set := &cobra.Command{
		Use:   "set [user-id]",
		Short: "Store a login from a bearer token or a one-time code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return call(cmd, opts, http.MethodPut, "/sessions/"+userID, login, nil)
		},
	}
	set.Flags().StringVar(&login.Email, "email", "", "Customer email")
	set.Flags().StringVar(&login.Token, "bearer", "", "Customer bearer token")
	set.Flags().StringVar(&login.OTP, "otp", "", "One-time login code")
	set.Flags().StringVar(&login.Recaptcha, "recaptcha", "", "reCAPTCHA response for the code exchange")
	_ = set.MarkFlagRequired("email")
	set.MarkFlagsMutuallyExclusive("bearer", "otp")
	set.MarkFlagsOneRequired("bearer", "otp")

	get := &cobra.Command{
		Use:   "get [user-id]",
		Short: "Show a user's login",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return call(cmd, opts, http.MethodGet, "/sessions/"+userID, nil, nil)
		},
	}

	del := &cobra.Command{
		Use:   "delete [user-id]",
		Short: "Log a user out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return call(cmd, opts, http.MethodDelete, "/sessions/"+userID, nil, nil)
		},
	}

	var otpReq struct {
		Email     string `json:"email"`
		Recaptcha string `json:"recaptcha"`
	}
	otp := &cobra.Command{
		Use:   "otp",
		Short: "Mail a one-time login code to a customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodPost, "/sessions/otp", otpReq, nil)
		},
	}
	otp.Flags().StringVar(&otpReq.Email, "email", "", "Customer email")
	otp.Flags().StringVar(&otpReq.Recaptcha, "recaptcha", "", "reCAPTCHA response")
	_ = otp.MarkFlagRequired("email")

	cmd.AddCommand(set, get, del, otp)
	return cmd
}

func variantsCmd(opts *rootOptions) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "variants",
		Short: "List product variants",
		RunE: func(cmd *cobra.Command, args []string) error {
			if refresh {
				return call(cmd, opts, http.MethodPost, "/variants/refresh", nil, nil)
			}
			return call(cmd, opts, http.MethodGet, "/variants", nil, nil)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Reload the catalog from the backend first")
	return cmd
}

func balanceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [user-id]",
		Short: "Show a logged-in user's spendable balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			return call(cmd, opts, http.MethodGet, "/balance/"+userID, nil, nil)
		},
	}
}

// call runs one API request and prints the response as indented JSON.
func call(cmd *cobra.Command, opts *rootOptions, method, path string, body any, headers map[string]string) error {
	client, err := opts.client()
	if err != nil {
		return err
	}

	payload, err := client.do(cmd.Context(), method, path, body, headers)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(bytes.TrimSpace(payload)) == 0 {
		_, err := fmt.Fprintln(out, "ok")
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err != nil {
		_, err := out.Write(payload)
		return err
	}
	_, err = fmt.Fprintln(out, pretty.String())
	return err
}

func parseUserID(raw string) (string, error) {
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return "", fmt.Errorf("invalid user id %q", raw)
	}
	return strconv.FormatInt(userID, 10), nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
