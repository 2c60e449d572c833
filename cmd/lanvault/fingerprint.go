package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func apiClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

// fingerprintCmd asks a running gateway for its host key fingerprint, for
// reading aloud against the one shown on the device during pairing.
func fingerprintCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the running gateway's host key fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := apiClient().Get(addr + "/api/v1/pairing/code")
			if err != nil {
				return fmt.Errorf("reach gateway: %w", err)
			}
			defer resp.Body.Close()

			var body struct {
				Fingerprint string `json:"fingerprint"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			fmt.Println(body.Fingerprint)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8001", "control-plane address")
	return cmd
}

func devicesCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List paired devices on the running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := apiClient().Get(addr + "/api/v1/devices")
			if err != nil {
				return fmt.Errorf("reach gateway: %w", err)
			}
			defer resp.Body.Close()

			var devices []struct {
				ID   string `json:"device_id"`
				Name string `json:"device_name"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if len(devices) == 0 {
				fmt.Println("no paired devices")
				return nil
			}
			for _, d := range devices {
				fmt.Printf("%s\t%s\n", d.ID, d.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8001", "control-plane address")
	return cmd
}
