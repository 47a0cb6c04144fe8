package main

import (
	"flag"
	"log"
	"strings"

	"github.com/arush/chatcore/pkg/db"
)

func main() {
	hosts := flag.String("hosts", "localhost:9042", "comma-separated scylla hosts")
	keyspace := flag.String("keyspace", "chatcore", "keyspace name")
	drop := flag.Bool("drop", false, "drop chat tables before recreating them")
	flag.Parse()

	hostList := strings.Split(*hosts, ",")

	if err := db.EnsureKeyspace(hostList, *keyspace); err != nil {
		log.Fatal(err)
	}

	session, err := db.NewSession(hostList, *keyspace)
	if err != nil {
		log.Fatal(err)
	}
	defer session.Close()

	if *drop {
		for _, table := range []string{"rooms", "rooms_by_user", "messages", "room_unread"} {
			if err := session.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
				log.Fatal(err)
			}
			log.Printf("dropped table %s", table)
		}
	}

	if err := db.EnsureSchema(session); err != nil {
		log.Fatal(err)
	}

	log.Printf("schema ready in keyspace %s", *keyspace)
}
