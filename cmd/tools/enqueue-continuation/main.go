// cmd/tools/enqueue-continuation/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"receipt-workers/internal/account"
	"receipt-workers/internal/common/camunda"
	"receipt-workers/internal/common/config"
	"receipt-workers/internal/common/database"
	"receipt-workers/internal/models"
	rrr "receipt-workers/internal/workers/donations/receipt-request-response"
)

func main() {
	enqueueCmd := flag.NewFlagSet("enqueue", flag.ExitOnError)
	registerCmd := flag.NewFlagSet("register", flag.ExitOnError)

	accountEnqueue := enqueueCmd.String("account", "", "Account whose stored subscriber should be processed")
	subscriberEnqueue := enqueueCmd.String("subscriber", "", "Subscriber id, when no account lookup is wanted")

	accountRegister := registerCmd.String("account", "", "Account id")
	subscriberRegister := registerCmd.String("subscriber", "", "Subscriber id (URL-safe base64)")
	currency := registerCmd.String("currency", "", "Subscription currency code")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch os.Args[1] {
	case "enqueue":
		enqueueCmd.Parse(os.Args[2:])
		if (*accountEnqueue == "") == (*subscriberEnqueue == "") {
			fmt.Println("Error: exactly one of account or subscriber is required for enqueue.")
			enqueueCmd.Usage()
			os.Exit(1)
		}
		key, err := enqueue(ctx, cfg, *accountEnqueue, *subscriberEnqueue)
		if err != nil {
			fmt.Printf("Error enqueuing continuation: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Started %s, process instance %d\n", cfg.Camunda.ContinuationProcessID, key)

	case "register":
		registerCmd.Parse(os.Args[2:])
		if *accountRegister == "" || *subscriberRegister == "" {
			fmt.Println("Error: account and subscriber are required for register.")
			registerCmd.Usage()
			os.Exit(1)
		}
		if err := register(ctx, cfg, *accountRegister, *subscriberRegister, *currency); err != nil {
			fmt.Printf("Error registering subscriber: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Registered subscriber for account %s\n", *accountRegister)

	default:
		help()
		os.Exit(1)
	}
}

func help() {
	fmt.Println("Usage: enqueue-continuation <command> [flags]")
	fmt.Println("Commands:")
	fmt.Println("  enqueue   Start the receipt request -> redemption -> profile refresh chain")
	fmt.Println("  register  Store the subscriber id of an account")
}

func openStore(cfg *config.Config) (*database.PostgresClient, account.Store, error) {
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	return pg, account.NewPostgresStore(pg.DB), nil
}

func enqueue(ctx context.Context, cfg *config.Config, accountID, rawSubscriber string) (int64, error) {
	id, err := resolveSubscriber(ctx, cfg, accountID, rawSubscriber)
	if err != nil {
		return 0, err
	}

	client, err := camunda.NewClient(cfg.Camunda.BrokerAddress)
	if err != nil {
		return 0, err
	}
	defer client.Close()

	return client.StartProcess(ctx, cfg.Camunda.ContinuationProcessID, map[string]interface{}{
		rrr.VarSubscriberID: id.String(),
		rrr.VarCreatedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func resolveSubscriber(ctx context.Context, cfg *config.Config, accountID, rawSubscriber string) (models.SubscriberID, error) {
	if rawSubscriber != "" {
		return models.ParseSubscriberID(rawSubscriber)
	}

	pg, store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer pg.Close()

	sub, err := store.Subscriber(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return sub.SubscriberID, nil
}

func register(ctx context.Context, cfg *config.Config, accountID, rawSubscriber, currency string) error {
	id, err := models.ParseSubscriberID(rawSubscriber)
	if err != nil {
		return err
	}

	pg, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	return store.SaveSubscriber(ctx, &models.Subscriber{AccountID: accountID, SubscriberID: id, CurrencyCode: currency})
}
