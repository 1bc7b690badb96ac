package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/stores"
)

type Greeting string

// ExampleOpen records a scheduler run in an in-memory store.
func ExampleOpen() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	index := engine.NewRuleSet().Add(engine.TaskRule{
		Name:   "greet",
		Output: engine.ProductOf[Greeting](),
		Clause: []engine.Selector{engine.SelectOf[string]()},
		Func: engine.Func1(func(name string) (Greeting, error) {
			return Greeting("hello " + name), nil
		}),
	}).MustBuild()
	sched := engine.NewScheduler(index, engine.WithRecorder(store))

	res, err := sched.Execute(ctx, engine.ExecutionRequest{
		Roots: []engine.Root{{Subject: "world", Product: engine.ProductOf[Greeting]()}},
	})
	if err != nil {
		log.Fatal(err)
	}

	run, err := store.GetRun(ctx, res.RunID)
	if err != nil {
		log.Fatal(err)
	}
	roots, err := store.ListRootResults(ctx, run.ID)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Status: %s, Root: %s, Value: %s\n", run.Status, roots[0].Root, *roots[0].Value)
	// Output: Status: succeeded, Root: Select(world, Greeting), Value: hello world
}
