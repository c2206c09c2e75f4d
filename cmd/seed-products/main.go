package main

import (
	"database/sql"
	"flag"
	"log"
	"os"
	"strings"

	_ "github.com/lib/pq"
)

// seed-products upserts one product per -name. Existing products keep their
// description and active flag.
func main() {
	var names multiFlag
	flag.Var(&names, "name", "product name (repeatable)")
	description := flag.String("description", "", "description for newly created products")
	flag.Parse()

	if len(names) == 0 {
		log.Fatal("at least one -name is required")
	}

	dsn := os.Getenv("LICENSE_DATABASE_URL")
	if dsn == "" {
		log.Fatal("LICENSE_DATABASE_URL is not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	for _, name := range names {
		var id int64
		err := db.QueryRow(`
			INSERT INTO products (name, description, is_active)
			VALUES ($1, $2, TRUE)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`, name, *description).Scan(&id)
		if err != nil {
			log.Fatalf("product %q insert failed: %v", name, err)
		}
		log.Printf("product %q -> software_id %d", name, id)
	}
}

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	if v = strings.TrimSpace(v); v != "" {
		*m = append(*m, v)
	}
	return nil
}
