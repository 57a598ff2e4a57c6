package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jacksonlee411/orgtree/internal/config"
	"github.com/jacksonlee411/orgtree/modules/iam/infrastructure/casbinident"
	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/ports"
	"github.com/jacksonlee411/orgtree/modules/orgtree/domain/types"
	"github.com/jacksonlee411/orgtree/modules/orgtree/infrastructure/persistence"
	"github.com/jacksonlee411/orgtree/modules/orgtree/services"
)

func main() {
	if len(os.Args) < 2 {
		fatalf("usage: orgtree <demo|tree|admins> [args]")
	}

	switch os.Args[1] {
	case "demo":
		demo(os.Args[2:])
	case "tree":
		tree(os.Args[2:])
	case "admins":
		admins(os.Args[2:])
	default:
		fatalf("unknown subcommand: %s", os.Args[1])
	}
}

func openStore(ctx context.Context, cfg config.Config) (ports.RelationStore, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		store := persistence.NewPGStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	case config.DriverSQLite:
		store, err := persistence.NewSQLiteStore(cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.DriverMemory:
		return persistence.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}

func openIdentity(cfg config.Config) (ports.IdentityProvider, error) {
	if cfg.Identity.PolicyPath != "" {
		return casbinident.New(cfg.Identity.PolicyPath)
	}
	return casbinident.NewFromMemberships(cfg.Identity.Memberships)
}

func loadConfig(fs *flag.FlagSet, args []string) config.Config {
	fs.SetOutput(os.Stderr)
	path := fs.String("config", "orgtree.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*path)
	if err != nil {
		fatal(err)
	}
	return cfg
}

// demo seeds the sample tree from the test suite and walks it, so a
// memory-driver config can show the whole library in one run.
func demo(args []string) {
	cfg := loadConfig(flag.NewFlagSet("demo", flag.ContinueOnError), args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fatal(err)
	}
	defer closeStore()

	identity, err := openIdentity(cfg)
	if err != nil {
		fatal(err)
	}

	engine := services.NewTreeEngine(store)
	query := services.NewTreeQuery(store)
	resolver := services.NewPermissionResolver(store, identity)

	umbrella, err := engine.CreateOrgType(ctx, "Umbrella Organization")
	if err != nil {
		fatal(err)
	}
	regional, err := engine.CreateOrgType(ctx, "Regional Network")
	if err != nil {
		fatal(err)
	}
	site, err := engine.CreateOrgType(ctx, "Service Site")
	if err != nil {
		fatal(err)
	}

	root := mustCreate(ctx, engine, "Acme Network", umbrella.ID)
	northeast := mustCreate(ctx, engine, "U.S. Northeast", regional.ID)
	southwest := mustCreate(ctx, engine, "U.S. Southwest", regional.ID)
	boston := mustCreate(ctx, engine, "Boston Site", site.ID)
	phoenix := mustCreate(ctx, engine, "Phoenix Site", site.ID)

	mustAddChild(ctx, engine, root.ID, northeast.ID)
	mustAddChild(ctx, engine, root.ID, southwest.ID)
	mustAddChild(ctx, engine, northeast.ID, boston.ID)
	mustAddChild(ctx, engine, southwest.ID, phoenix.ID)

	if _, err := resolver.Grant(ctx, "coordinator", "regional coordinator", northeast.ID); err != nil {
		fatal(err)
	}

	descendants, err := query.GetDescendants(ctx, root.ID, true)
	if err != nil {
		fatal(err)
	}
	log.Printf("subtree of %q:", root.Name)
	for _, org := range descendants {
		log.Printf("  %d %s", org.ID, org.Name)
	}

	for _, user := range []string{"root", "coordinator"} {
		orgs, err := resolver.OrgsAdministeredBy(ctx, user, nil)
		if err != nil {
			fatal(err)
		}
		log.Printf("%s administers %d orgs:", user, len(orgs))
		for _, org := range orgs {
			log.Printf("  %d %s", org.ID, org.Name)
		}
	}
}

func tree(args []string) {
	fs := flag.NewFlagSet("tree", flag.ContinueOnError)
	orgID := fs.Int64("org", 0, "org id to inspect")
	cfg := loadConfig(fs, args)
	if *orgID == 0 {
		fatalf("missing --org")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fatal(err)
	}
	defer closeStore()

	query := services.NewTreeQuery(store)

	parent, err := query.GetParent(ctx, *orgID)
	if err != nil {
		fatal(err)
	}
	if parent == nil {
		log.Printf("org %d is a root", *orgID)
	} else {
		log.Printf("parent: %d %s", parent.ID, parent.Name)
	}

	children, err := query.GetChildren(ctx, *orgID)
	if err != nil {
		fatal(err)
	}
	log.Printf("%d children:", len(children))
	for _, org := range children {
		log.Printf("  %d %s", org.ID, org.Name)
	}

	descendants, err := query.GetDescendants(ctx, *orgID, false)
	if err != nil {
		fatal(err)
	}
	log.Printf("%d descendants:", len(descendants))
	for _, org := range descendants {
		log.Printf("  %d %s", org.ID, org.Name)
	}
}

func admins(args []string) {
	fs := flag.NewFlagSet("admins", flag.ContinueOnError)
	user := fs.String("user", "", "user id to resolve")
	selector := fs.String("match", "", "optional CEL selector, e.g. org.type == \"Service Site\"")
	cfg := loadConfig(fs, args)
	if *user == "" {
		fatalf("missing --user")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fatal(err)
	}
	defer closeStore()

	identity, err := openIdentity(cfg)
	if err != nil {
		fatal(err)
	}
	resolver := services.NewPermissionResolver(store, identity)

	var orgs []types.Org
	if *selector != "" {
		orgs, err = resolver.OrgsAdministeredByMatching(ctx, *user, *selector)
	} else {
		orgs, err = resolver.OrgsAdministeredBy(ctx, *user, nil)
	}
	if err != nil {
		fatal(err)
	}

	log.Printf("%s administers %d orgs:", *user, len(orgs))
	for _, org := range orgs {
		log.Printf("  %d %s", org.ID, org.Name)
	}
}

func mustCreate(ctx context.Context, engine *services.TreeEngine, name string, typeID int64) types.Org {
	org, err := engine.CreateOrg(ctx, name, typeID)
	if err != nil {
		fatal(err)
	}
	return org
}

func mustAddChild(ctx context.Context, engine *services.TreeEngine, parentID, childID int64) {
	if err := engine.AddChild(ctx, parentID, childID); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
