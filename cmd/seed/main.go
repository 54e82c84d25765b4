// Command seed crea el usuario administrador inicial: perfil de
// administradores ligado al rol super_admin y un usuario activo con la
// contraseña hasheada. Idempotente: correrlo de nuevo no duplica nada.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/dropDatabas3/souche/internal/config"
	"github.com/dropDatabas3/souche/internal/security/password"
	"github.com/dropDatabas3/souche/internal/store/pg"
	pgmigrations "github.com/dropDatabas3/souche/migrations/postgres"
)

func strEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", os.Getenv("CONFIG_PATH"), "ruta al YAML de configuración")
		email      = flag.String("email", strEnv("SEED_ADMIN_EMAIL", "admin@souche.local"), "email del admin inicial")
		pass       = flag.String("password", strEnv("SEED_ADMIN_PASSWORD", ""), "contraseña del admin inicial")
	)
	flag.Parse()

	if *pass == "" {
		log.Fatal("falta la contraseña del admin (flag -password o env SEED_ADMIN_PASSWORD)")
	}
	if len(*pass) < 8 {
		log.Fatal("la contraseña del admin necesita al menos 8 caracteres")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPool(ctx, cfg.Storage.DSN, cfg.Storage.Postgres.MaxConns, 0)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	// El esquema y el catálogo RBAC tienen que existir antes de sembrar.
	if _, err := pg.Migrate(ctx, pool, pgmigrations.FS); err != nil {
		log.Fatalf("migraciones: %v", err)
	}

	if err := seedAdmin(ctx, pool, strings.ToLower(strings.TrimSpace(*email)), *pass); err != nil {
		log.Fatalf("seed: %v", err)
	}
	fmt.Printf("admin listo: %s\n", *email)
}

func seedAdmin(ctx context.Context, pool *pgxpool.Pool, email, pass string) error {
	// Paso 1: perfil de administradores.
	var profileID int64
	err := pool.QueryRow(ctx, `
		INSERT INTO profiles (label, description)
		VALUES ('Administrateurs', 'Direction')
		ON CONFLICT (label) DO UPDATE SET label = EXCLUDED.label
		RETURNING id
	`).Scan(&profileID)
	if err != nil {
		return fmt.Errorf("crear perfil admin: %w", err)
	}

	// Paso 2: ligar el perfil al rol super_admin.
	if _, err := pool.Exec(ctx, `
		INSERT INTO profile_roles (profile_id, role_id)
		SELECT $1, id FROM roles WHERE label = 'super_admin'
		ON CONFLICT DO NOTHING
	`, profileID); err != nil {
		return fmt.Errorf("asignar rol super_admin: %w", err)
	}

	// Paso 3: usuario admin. Si ya existe no se toca su contraseña.
	var exists bool
	if err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = $1)`, email,
	).Scan(&exists); err != nil {
		return fmt.Errorf("buscar admin existente: %w", err)
	}
	if exists {
		return nil
	}

	hash, err := password.HashPassword(pass)
	if err != nil {
		return fmt.Errorf("hashear contraseña: %w", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO users (email, password_hash, profile_id, is_active)
		VALUES ($1, $2, $3, TRUE)
	`, email, hash, profileID); err != nil {
		return fmt.Errorf("crear admin: %w", err)
	}
	return nil
}
