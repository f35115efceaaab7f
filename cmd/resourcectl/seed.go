package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"resourcecore/internal/core"
	"resourcecore/pkg/domain"
)

// seedFile is the master data document read by the seed command. Resources
// name their type, and screens name their resources, by name.
type seedFile struct {
	States    []core.State        `json:"states"`
	Types     []core.ResourceType `json:"types"`
	Resources []seedResource      `json:"resources"`
	Screens   []seedScreen        `json:"screens"`
}

type seedResource struct {
	Type   string            `json:"type"`
	Name   string            `json:"name"`
	Values map[string]string `json:"values"`
	State  int64             `json:"state"`
}

type seedRef struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type seedScreen struct {
	Name             string    `json:"name"`
	PageCount        int       `json:"page_count"`
	ItemCountPerPage int       `json:"item_count_per_page"`
	Resources        []seedRef `json:"resources"`
}

type seedSummary struct {
	States    int `json:"states"`
	Types     int `json:"types"`
	Resources int `json:"resources"`
	Screens   int `json:"screens"`
	Events    int `json:"events"`
}

func cmdSeed(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("seed", e)
	path := fs.String("file", "", "seed JSON document")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *path == "" {
		fs.Usage()
		return errUsage
	}
	raw, err := os.ReadFile(*path)
	if err != nil {
		return err
	}
	var doc seedFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", *path, err)
	}
	summary, err := seed(ctx, e.svc, doc)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, summary)
}

func seed(ctx context.Context, svc *core.Service, doc seedFile) (seedSummary, error) {
	var summary seedSummary
	for _, st := range doc.States {
		if _, _, err := svc.CreateState(ctx, st); err != nil {
			return summary, fmt.Errorf("state %q: %w", st.Name, err)
		}
		summary.States++
	}

	typeIDs := make(map[string]int64, len(doc.Types))
	for _, rt := range doc.Types {
		created, _, err := svc.CreateResourceType(ctx, rt)
		if err != nil {
			return summary, fmt.Errorf("resource type %q: %w", rt.Name, err)
		}
		typeIDs[created.Name] = created.ID
		summary.Types++
	}

	resourceIDs := make(map[seedRef]int64, len(doc.Resources))
	for _, sr := range doc.Resources {
		typeID, ok := typeIDs[sr.Type]
		if !ok {
			return summary, fmt.Errorf("resource %q: unknown type %q", sr.Name, sr.Type)
		}
		created, _, err := svc.CreateResource(ctx, core.Resource{
			ResourceTypeID: typeID,
			Name:           sr.Name,
			CustomData:     encodeValues(sr.Values),
		})
		if err != nil {
			return summary, fmt.Errorf("resource %q: %w", sr.Name, err)
		}
		resourceIDs[seedRef{Type: sr.Type, Name: sr.Name}] = created.ID
		summary.Resources++
		if sr.State != 0 {
			if err := svc.SetState(ctx, created.ID, sr.State); err != nil {
				return summary, fmt.Errorf("resource %q state: %w", sr.Name, err)
			}
			summary.Events++
		}
	}

	for _, ss := range doc.Screens {
		screen := core.Screen{Name: ss.Name, PageCount: ss.PageCount, ItemCountPerPage: ss.ItemCountPerPage}
		for i, ref := range ss.Resources {
			id, ok := resourceIDs[ref]
			if !ok {
				return summary, fmt.Errorf("screen %q: unknown resource %s/%s", ss.Name, ref.Type, ref.Name)
			}
			screen.Slots = append(screen.Slots, core.ScreenSlot{ResourceID: id, Order: i})
		}
		if _, _, err := svc.CreateScreen(ctx, screen); err != nil {
			return summary, fmt.Errorf("screen %q: %w", ss.Name, err)
		}
		summary.Screens++
	}
	return summary, nil
}

// encodeValues serializes values ordered by field name so the stored payload
// is stable.
func encodeValues(values map[string]string) string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]domain.CustomDataValue, 0, len(names))
	for _, name := range names {
		out = append(out, domain.CustomDataValue{Name: name, Value: values[name]})
	}
	return domain.EncodeCustomData(out)
}
