package main

import (
	"flag"
	"log"

	"github.com/danmuck/kioskpush/internal/addressbook"
	"github.com/danmuck/kioskpush/internal/config"
)

func main() {
	kind := flag.String("kind", "kioskctl", "config kind: kioskd|kioskctl|addressbook")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file (kioskctl|addressbook; use kioskd -check for kioskd)")
	input := flag.String("input", "", "config path for validation (defaults to per-kind path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		switch *kind {
		case "kioskctl":
			if _, err := config.LoadSenderConfig(path); err != nil {
				log.Fatal(err)
			}
		case "addressbook":
			book, err := addressbook.Load(path)
			if err != nil {
				log.Fatal(err)
			}
			log.Printf("Address book lists %d kiosks", len(book.Entries))
		default:
			log.Fatalf("cannot validate kind: %s", *kind)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}

func defaultPath(kind string) string {
	switch kind {
	case "kioskd":
		return "kioskd.toml"
	case "kioskctl":
		return "kioskctl.toml"
	case "addressbook":
		return "ips.txt"
	default:
		log.Fatalf("unknown kind: %s", kind)
		return ""
	}
}
