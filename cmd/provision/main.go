package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tehmaze-labs/yubistack/cmd/flags"
	"github.com/tehmaze-labs/yubistack/interfaces"
	"github.com/tehmaze-labs/yubistack/ksm"
	"github.com/tehmaze-labs/yubistack/otp"
	"github.com/tehmaze-labs/yubistack/storage"
)

// registrar is the writable slice of a key store. Only some backends
// support provisioning; the read-only ones (s3, vault, derived) are
// populated out of band.
type registrar interface {
	Register(record interfaces.DeviceRecord) error
	Remove(id interfaces.PublicID) error
}

var publicIDFlag = &cli.StringFlag{
	Name:     "public-id",
	Required: true,
	Usage:    "device public identifier, 1-16 modhex chars",
}

func main() {
	app := &cli.App{
		Name:  "yubistack-provision",
		Usage: "Provision devices and API clients for the validation service",
		Flags: []cli.Flag{flags.LogJSONFlag, flags.LogDebugFlag, flags.LogServiceFlag, flags.LogUIDFlag},
		Commands: []*cli.Command{
			{
				Name:  "device",
				Usage: "Manage provisioned devices",
				Subcommands: []*cli.Command{
					{
						Name:  "add",
						Usage: "Register a device, generating its secrets unless provided",
						Flags: []cli.Flag{
							flags.KeyStoreFlag,
							publicIDFlag,
							&cli.StringFlag{Name: "private-id", Usage: "6-byte private id as 12 hex chars (generated if absent)"},
							&cli.StringFlag{Name: "aes-key", Usage: "AES-128 key as 32 hex chars (generated if absent)"},
						},
						Action: deviceAdd,
					},
					{
						Name:   "remove",
						Usage:  "Remove a device from the key store",
						Flags:  []cli.Flag{flags.KeyStoreFlag, publicIDFlag},
						Action: deviceRemove,
					},
				},
			},
			{
				Name:  "client",
				Usage: "Manage API client credentials",
				Subcommands: []*cli.Command{
					{
						Name:  "add",
						Usage: "Add an API client with a fresh shared secret to a clients file",
						Flags: []cli.Flag{
							flags.ClientsFileFlag,
							&cli.StringFlag{Name: "id", Required: true, Usage: "client identifier"},
							&cli.StringSliceFlag{Name: "allow", Usage: "restrict the client to these device public ids (repeatable)"},
						},
						Action: clientAdd,
					},
				},
			},
			{
				Name:  "otp",
				Usage: "OTP utilities",
				Subcommands: []*cli.Command{
					{
						Name:  "mint",
						Usage: "Encrypt a token for a provisioned device, for testing validators",
						Flags: []cli.Flag{
							flags.KeyStoreFlag,
							publicIDFlag,
							&cli.UintFlag{Name: "counter", Value: 1, Usage: "use counter"},
							&cli.UintFlag{Name: "session", Value: 0, Usage: "session counter"},
						},
						Action: otpMint,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openKeyStore(cCtx *cli.Context) (interfaces.KeyStore, error) {
	factory := storage.NewFactory(flags.SetupLogger(cCtx))
	return factory.KeyStoreFor(cCtx.String(flags.KeyStoreFlag.Name))
}

func deviceAdd(cCtx *cli.Context) error {
	publicID, err := interfaces.NewPublicID(cCtx.String("public-id"))
	if err != nil {
		return err
	}

	record := interfaces.DeviceRecord{
		PublicID:  publicID,
		CreatedAt: time.Now().UTC(),
	}

	if raw := cCtx.String("private-id"); raw != "" {
		record.PrivateID, err = interfaces.NewPrivateIDFromHex(raw)
	} else {
		_, err = rand.Read(record.PrivateID[:])
	}
	if err != nil {
		return err
	}

	if raw := cCtx.String("aes-key"); raw != "" {
		record.Key, err = interfaces.NewAESKeyFromHex(raw)
	} else {
		_, err = rand.Read(record.Key[:])
	}
	if err != nil {
		return err
	}

	keys, err := openKeyStore(cCtx)
	if err != nil {
		return err
	}
	writable, ok := keys.(registrar)
	if !ok {
		return errors.New("key store does not support provisioning")
	}
	if err := writable.Register(record); err != nil {
		return err
	}

	// The one place secrets are shown: the operator needs them to
	// personalize the device.
	fmt.Printf("public_id:  %s\n", record.PublicID)
	fmt.Printf("private_id: %s\n", record.PrivateID.Hex())
	fmt.Printf("aes_key:    %s\n", record.Key.Hex())
	return nil
}

func deviceRemove(cCtx *cli.Context) error {
	publicID, err := interfaces.NewPublicID(cCtx.String("public-id"))
	if err != nil {
		return err
	}

	keys, err := openKeyStore(cCtx)
	if err != nil {
		return err
	}
	writable, ok := keys.(registrar)
	if !ok {
		return errors.New("key store does not support provisioning")
	}
	return writable.Remove(publicID)
}

// clientDocument mirrors the clients file layout read by the server.
type clientDocument struct {
	ID             string   `json:"id"`
	Secret         string   `json:"secret"`
	AllowedDevices []string `json:"allowed_devices,omitempty"`
}

func clientAdd(cCtx *cli.Context) error {
	path := cCtx.String(flags.ClientsFileFlag.Name)
	if path == "" {
		return errors.New("clients-file is required")
	}
	id := cCtx.String("id")

	var docs []clientDocument
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &docs); err != nil {
			return fmt.Errorf("failed to parse clients file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	for _, doc := range docs {
		if doc.ID == id {
			return fmt.Errorf("client %q already exists", id)
		}
	}

	for _, device := range cCtx.StringSlice("allow") {
		if _, err := interfaces.NewPublicID(device); err != nil {
			return fmt.Errorf("allow list: %w", err)
		}
	}

	secret := make([]byte, 20)
	if _, err := rand.Read(secret); err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(secret)

	docs = append(docs, clientDocument{
		ID:             id,
		Secret:         encoded,
		AllowedDevices: cCtx.StringSlice("allow"),
	})
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}

	fmt.Printf("id:     %s\n", id)
	fmt.Printf("secret: %s\n", encoded)
	return nil
}

func otpMint(cCtx *cli.Context) error {
	publicID, err := interfaces.NewPublicID(cCtx.String("public-id"))
	if err != nil {
		return err
	}

	keys, err := openKeyStore(cCtx)
	if err != nil {
		return err
	}
	record, err := keys.Lookup(cCtx.Context, publicID)
	if err != nil {
		return err
	}

	var random [2]byte
	if _, err := rand.Read(random[:]); err != nil {
		return err
	}

	token := otp.Token{
		Counter: uint16(cCtx.Uint("counter")),
		Session: uint8(cCtx.Uint("session")),
		Random:  uint16(random[0])<<8 | uint16(random[1]),
	}
	fmt.Println(ksm.MintOTP(record, token))
	return nil
}
