package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyperjump/facegate/internal/cli"
	"github.com/hyperjump/facegate/internal/models"
	"github.com/hyperjump/facegate/internal/server"
)

var registerCmd = &cobra.Command{
	Use:   "register <user-id> <image>",
	Short: "Enroll a face under a user ID",
	Args:  cobra.ExactArgs(2),
	RunE:  runRegister,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <image>",
	Short: "Find the enrolled identity behind a face",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <user-id>",
	Short: "Remove an enrolled identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store and matching settings",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(registerCmd, verifyCmd, deleteCmd, statusCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	format, err := output()
	if err != nil {
		return err
	}
	image, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	ctx := cmd.Context()
	meta := map[string]interface{}{"source": "cli"}

	var resp *models.StandardResponse
	if serverURL != "" {
		resp, err = newClient().Register(ctx, args[0], image, meta)
		if err != nil {
			return err
		}
	} else {
		err = withComponents(ctx, func(c *Components) error {
			id, err := c.Auth.Enroll(ctx, args[0], image, meta)
			if err != nil {
				return err
			}
			r := models.NewRegisterResponse(id)
			resp = &r
			return nil
		})
		if err != nil {
			return err
		}
	}
	return writeResponse(cmd, resp, format)
}

func runVerify(cmd *cobra.Command, args []string) error {
	format, err := output()
	if err != nil {
		return err
	}
	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	ctx := cmd.Context()

	var resp *models.StandardResponse
	if serverURL != "" {
		resp, err = newClient().Verify(ctx, image)
		if err != nil {
			return err
		}
	} else {
		err = withComponents(ctx, func(c *Components) error {
			decision, err := c.Auth.VerifyImage(ctx, image)
			if err != nil {
				return err
			}
			r := models.NewVerifyResponse(decision)
			resp = &r
			return nil
		})
		if err != nil {
			return err
		}
	}
	return writeResponse(cmd, resp, format)
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if serverURL != "" {
		if err := newClient().Delete(ctx, args[0]); err != nil {
			return err
		}
	} else {
		err := withComponents(ctx, func(c *Components) error {
			return c.Auth.Delete(ctx, args[0])
		})
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	format, err := output()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var status map[string]interface{}
	if serverURL != "" {
		status, err = newClient().Status(ctx)
		if err != nil {
			return err
		}
	} else {
		err = withComponents(ctx, func(c *Components) error {
			status, err = server.StatusReport(ctx, c.Auth, c.Config)
			return err
		})
		if err != nil {
			return err
		}
	}
	return cli.WriteStatus(cmd.OutOrStdout(), status, format)
}

// withComponents opens the store and extractor for one direct command and closes them afterwards.
func withComponents(ctx context.Context, fn func(*Components) error) error {
	c, err := openComponents(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}
