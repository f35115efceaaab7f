package core

import (
	"context"
	"fmt"
	"strings"

	"resourcecore/pkg/domain"
)

// UniqueNamesRule blocks duplicate names among resource types, among screens
// and among the resources of one type. Names compare trimmed and
// case-insensitively. Only entities touched by the transaction are checked.
func UniqueNamesRule() domain.Rule {
	return uniqueNames{}
}

type uniqueNames struct{}

func (uniqueNames) Name() string { return "unique_names" }

func normalizedName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (u uniqueNames) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	var (
		resources []domain.Resource
		types     []domain.ResourceType
		screens   []domain.Screen
		err       error
	)
	for _, change := range changes {
		if change.Action != domain.ActionCreate && change.Action != domain.ActionUpdate {
			continue
		}
		switch after := change.After.(type) {
		case domain.Resource:
			if resources == nil {
				if resources, err = view.ListResources(); err != nil {
					return domain.Result{}, err
				}
			}
			for _, other := range resources {
				if other.ID != after.ID && other.ResourceTypeID == after.ResourceTypeID && normalizedName(other.Name) == normalizedName(after.Name) {
					res.Violations = append(res.Violations, blockViolation(u.Name(), domain.EntityResource, after.ID,
						fmt.Sprintf("resource name %q already used by resource %d", after.Name, other.ID)))
					break
				}
			}
		case domain.ResourceType:
			if types == nil {
				if types, err = view.ListResourceTypes(); err != nil {
					return domain.Result{}, err
				}
			}
			for _, other := range types {
				if other.ID != after.ID && normalizedName(other.Name) == normalizedName(after.Name) {
					res.Violations = append(res.Violations, blockViolation(u.Name(), domain.EntityResourceType, after.ID,
						fmt.Sprintf("resource type name %q already used by type %d", after.Name, other.ID)))
					break
				}
			}
		case domain.Screen:
			if screens == nil {
				if screens, err = view.ListScreens(); err != nil {
					return domain.Result{}, err
				}
			}
			for _, other := range screens {
				if other.ID != after.ID && normalizedName(other.Name) == normalizedName(after.Name) {
					res.Violations = append(res.Violations, blockViolation(u.Name(), domain.EntityScreen, after.ID,
						fmt.Sprintf("screen name %q already used by screen %d", after.Name, other.ID)))
					break
				}
			}
		}
	}
	return res, nil
}
