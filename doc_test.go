package dbrest_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ambiyansyah-risyal/dbrest"
)

func ExampleRowsService_Query() {
	ctx := context.Background()
	client := dbrest.New(
		dbrest.ConnectionParams{Host: "localhost", Port: 8000, User: "rest-reader", Password: "x"},
		dbrest.WithMaxRetries(3),
		dbrest.WithDeduplication(),
	)

	rows, err := client.Rows().Query(ctx, dbrest.RawPlan(`{"$optic":{"ns":"op","fn":"operators","args":[]}}`), dbrest.RowsOptions{
		Format:   dbrest.FormatJSON,
		Bindings: dbrest.Bindings{dbrest.BindTyped("limit", "integer", 10)},
	})
	if err != nil {
		log.Fatal(err)
	}

	for item, err := range rows.Stream(ctx) {
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(item.ContentType)
	}
}

func ExampleDocumentsService_Read() {
	ctx := context.Background()
	client := dbrest.New(dbrest.ConnectionParams{Host: "localhost", Port: 8000},
		dbrest.WithCache(time.Minute),
	)

	docs, err := client.Documents().Read(ctx, dbrest.ReadOptions{
		URIs:       []string{"/countries/uv.json", "/countries/gm.json"},
		Categories: []dbrest.Category{dbrest.CategoryContent, dbrest.CategoryQuality},
	})
	if err != nil {
		log.Fatal(err)
	}

	docs.Result(func(all []dbrest.Document) {
		for _, d := range all {
			if d.Metadata != nil && d.Metadata.Quality != nil {
				fmt.Println(d.URI, *d.Metadata.Quality)
			}
		}
	}, func(err error) {
		log.Println("read failed:", err)
	})
	<-docs.Done()
}
