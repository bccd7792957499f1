// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianExtensions/pkg/logging"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/catalog"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/datatypes"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/events"
)

// maxWalkDepth bounds the recursive graph walk. A legitimate dependency
// chain never approaches this; hitting it means catalog data is
// degenerate.
const maxWalkDepth = 64

// Options configures a Resolver. Catalog is required; nil Logger and
// Events fall back to logging.Default() and events.Nop.
type Options struct {
	Catalog catalog.CatalogRegistry
	Logger  *logging.Logger
	Events  events.EventLog
}

// Resolver resolves extension versions and dependency graphs against
// the marketplace catalog.
//
// # Thread Safety
//
// Safe for concurrent use.
type Resolver struct {
	catalog catalog.CatalogRegistry
	logger  *logging.Logger
	events  events.EventLog
}

// New creates a Resolver. Returns an error if Options.Catalog is nil.
func New(opts Options) (*Resolver, error) {
	if opts.Catalog == nil {
		return nil, errors.New("resolver: catalog is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	return &Resolver{
		catalog: opts.Catalog,
		logger:  opts.Logger.With("component", "resolver"),
		events:  opts.Events,
	}, nil
}

// FindCompatibleVersion returns the newest published version of the
// extension satisfying constraint.
//
// # Description
//
// Scans the catalog's versions newest first. With stableOnly,
// prereleases never match, so a caller asking for stable releases is
// never handed a release candidate. An empty constraint accepts the
// newest version outright.
//
// # Outputs
//
//   - string: The matching version.
//   - error: ErrNoCompatibleVersion (wrapped) when nothing matches, or
//     the catalog's lookup error.
func (r *Resolver) FindCompatibleVersion(ctx context.Context, extensionName, constraint string, stableOnly bool) (string, error) {
	versions, err := r.catalog.ListVersions(ctx, extensionName)
	if err != nil {
		return "", fmt.Errorf("list versions of %s: %w", extensionName, err)
	}

	for _, v := range versions {
		if stableOnly && !v.IsStable {
			continue
		}
		if constraint == "" || SatisfiesConstraint(v.Version, constraint) {
			return v.Version, nil
		}
	}
	if stableOnly {
		return "", fmt.Errorf("%w: %s (constraint %q, stable only)", ErrNoCompatibleVersion, extensionName, constraint)
	}
	return "", fmt.Errorf("%w: %s (constraint %q)", ErrNoCompatibleVersion, extensionName, constraint)
}

// UpgradePath plans the ordered version hops for migrating an
// extension between two versions.
//
// # Description
//
// Within one major version (and for downgrades and reinstalls) the
// path is the single hop to the target. When upgrading across majors,
// the path routes through the highest stable release of each
// intermediate major so per-major data migrations run in order.
//
// # Outputs
//
//   - []string: Versions to migrate through, ending at to.
//   - error: ErrNoUpgradePath (wrapped) when from/to are malformed or
//     an intermediate major has no stable release.
func (r *Resolver) UpgradePath(ctx context.Context, extensionName, from, to string) ([]string, error) {
	vFrom, err := ParseVersion(from)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoUpgradePath, err)
	}
	vTo, err := ParseVersion(to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoUpgradePath, err)
	}

	// Single hop for same-major moves, downgrades, and reinstalls.
	if vTo.Major() <= vFrom.Major() {
		return []string{to}, nil
	}

	var path []string
	for major := vFrom.Major() + 1; major < vTo.Major(); major++ {
		hop, err := r.FindCompatibleVersion(ctx, extensionName, fmt.Sprintf("^%d.0.0", major), true)
		if err != nil {
			if errors.Is(err, ErrNoCompatibleVersion) {
				return nil, fmt.Errorf("%w: %s has no stable release for major %d", ErrNoUpgradePath, extensionName, major)
			}
			return nil, err
		}
		path = append(path, hop)
	}
	return append(path, to), nil
}

// ResolveDependencies determines whether all dependencies of one
// extension version can be satisfied for a tenant.
//
// # Description
//
// Builds the transitive dependency graph of (extensionName, version),
// rejects cycles, and resolves each non-root node by type:
//
//   - extension: satisfied by the installed version when compatible
//     with the declared constraint (an incompatible installed version
//     is a conflict, not a miss), or by a published compatible version
//     when not installed.
//   - plugin / system_service: satisfied when the catalog reports the
//     plugin or service available.
//
// Required unsatisfied dependencies become Errors entries; optional
// ones are recorded unsatisfied without failing the resolution. The
// Resolved list is ordered topologically, dependencies first.
//
// Resolution never mutates installations: the result reports what
// would need to change.
//
// # Inputs
//
//   - installed: Currently installed versions by extension name. The
//     caller typically passes the catalog's installed state for the
//     tenant; passing it explicitly keeps resolution deterministic
//     while an install flow is mutating rows.
//
// # Outputs
//
//   - *datatypes.ResolutionResult: Structured outcome; never nil on a
//     nil error.
//   - error: Catalog lookup failure for the target version (wrapped
//     catalog.ErrExtensionNotFound / catalog.ErrVersionNotFound).
func (r *Resolver) ResolveDependencies(ctx context.Context, extensionName, version, tenantID string, installed map[string]string) (*datatypes.ResolutionResult, error) {
	target, err := r.catalog.GetVersion(ctx, extensionName, version)
	if err != nil {
		return nil, fmt.Errorf("resolve %s@%s: %w", extensionName, version, err)
	}

	graph := newDependencyGraph()
	graph.addNode(&DependencyNode{
		Name:           extensionName,
		Version:        version,
		DependencyType: datatypes.DependencyTypeExtension,
		IsRoot:         true,
	})

	visited := map[string]bool{extensionName + "@" + version: true}
	if err := r.walkDependencies(ctx, graph, extensionName, target.VersionID, installed, visited, 0); err != nil {
		return nil, err
	}

	result := &datatypes.ResolutionResult{}

	if cycle := graph.detectCycle(); cycle != nil {
		result.Errors = []string{cycle.Error()}
		r.logger.Warn("dependency cycle rejected",
			"extension", extensionName, "version", version, "cycle", cycle.Error())
		r.emitResolution(ctx, extensionName, version, result)
		return result, nil
	}

	for _, node := range graph.topoOrder() {
		resolved := r.resolveNode(ctx, node, installed)
		result.Resolved = append(result.Resolved, resolved)
		if !resolved.IsSatisfied && !resolved.IsOptional {
			result.Errors = append(result.Errors,
				fmt.Sprintf("required dependency %s not satisfied: %s", resolved.Name, resolved.ConflictReason))
		}
	}

	result.Success = len(result.Errors) == 0
	r.logger.Debug("dependency resolution finished",
		"extension", extensionName, "version", version,
		"resolved", len(result.Resolved), "errors", len(result.Errors))
	r.emitResolution(ctx, extensionName, version, result)
	return result, nil
}

// walkDependencies recursively expands extension-typed dependencies
// into the graph. The visited set guards against re-expanding the same
// name@version pair, bounding recursion on diamond shapes; cycles are
// left in the graph for detectCycle to report.
func (r *Resolver) walkDependencies(ctx context.Context, graph *DependencyGraph, parentName, versionID string, installed map[string]string, visited map[string]bool, depth int) error {
	if depth >= maxWalkDepth {
		return fmt.Errorf("dependency walk exceeded depth %d at %s", maxWalkDepth, parentName)
	}

	deps, err := r.catalog.GetDependencies(ctx, versionID)
	if err != nil {
		return fmt.Errorf("dependencies of version %s: %w", versionID, err)
	}

	for _, dep := range deps {
		depVersion := r.versionForNode(ctx, dep, installed)
		graph.addNode(&DependencyNode{
			Name:           dep.DependencyName,
			Version:        depVersion,
			DependencyType: dep.DependencyType,
			Constraint:     dep.VersionConstraint,
			IsOptional:     dep.IsOptional,
		})
		graph.addEdge(parentName, dep.DependencyName)

		// Only extensions have their own dependency records.
		if dep.DependencyType != datatypes.DependencyTypeExtension || depVersion == "" {
			continue
		}
		key := dep.DependencyName + "@" + depVersion
		if visited[key] {
			continue
		}
		visited[key] = true

		depRecord, err := r.catalog.GetVersion(ctx, dep.DependencyName, depVersion)
		if err != nil {
			// Unpublished versions are reported by resolveNode; they
			// simply have no transitive dependencies to walk.
			continue
		}
		if err := r.walkDependencies(ctx, graph, dep.DependencyName, depRecord.VersionID, installed, visited, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// versionForNode picks the version a dependency node would run at: the
// installed version when present, otherwise the newest published
// version satisfying the constraint, stable preferred but falling back
// to prereleases so a constraint only a prerelease satisfies still
// resolves. Empty when nothing fits.
func (r *Resolver) versionForNode(ctx context.Context, dep datatypes.ExtensionDependency, installed map[string]string) string {
	if dep.DependencyType != datatypes.DependencyTypeExtension {
		return ""
	}
	if v, ok := installed[dep.DependencyName]; ok {
		return v
	}
	v, err := r.FindCompatibleVersion(ctx, dep.DependencyName, dep.VersionConstraint, true)
	if errors.Is(err, ErrNoCompatibleVersion) {
		v, err = r.FindCompatibleVersion(ctx, dep.DependencyName, dep.VersionConstraint, false)
	}
	if err != nil {
		return ""
	}
	return v
}

// resolveNode determines satisfaction for one non-root node.
func (r *Resolver) resolveNode(ctx context.Context, node *DependencyNode, installed map[string]string) datatypes.ResolvedDependency {
	resolved := datatypes.ResolvedDependency{
		Name:           node.Name,
		DependencyType: node.DependencyType,
		Version:        node.Version,
		Constraint:     node.Constraint,
		IsOptional:     node.IsOptional,
	}

	switch node.DependencyType {
	case datatypes.DependencyTypeExtension:
		if installedVersion, ok := installed[node.Name]; ok {
			resolved.Version = installedVersion
			if node.Constraint == "" || SatisfiesConstraint(installedVersion, node.Constraint) {
				resolved.IsSatisfied = true
			} else {
				// Installed but wrong version: a conflict, not a miss.
				resolved.ConflictReason = fmt.Sprintf(
					"installed version %s conflicts with required %s", installedVersion, node.Constraint)
			}
			return resolved
		}
		if node.Version != "" {
			resolved.IsSatisfied = true
			return resolved
		}
		resolved.ConflictReason = fmt.Sprintf("no published version satisfies %q", node.Constraint)

	case datatypes.DependencyTypePlugin:
		available, err := r.catalog.PluginAvailable(ctx, node.Name)
		if err != nil {
			r.logger.Warn("plugin availability check failed", "plugin", node.Name, "error", err)
		}
		if available {
			resolved.IsSatisfied = true
		} else {
			resolved.ConflictReason = "plugin not available"
		}

	case datatypes.DependencyTypeSystemService:
		available, err := r.catalog.ServiceAvailable(ctx, node.Name)
		if err != nil {
			r.logger.Warn("service availability check failed", "service", node.Name, "error", err)
		}
		if available {
			resolved.IsSatisfied = true
		} else {
			resolved.ConflictReason = "system service not available"
		}

	default:
		resolved.ConflictReason = fmt.Sprintf("unknown dependency type %q", node.DependencyType)
	}
	return resolved
}

// GetUpdateCandidates reports installed extensions with a newer
// published version available for the tenant.
//
// # Description
//
// For each installed extension the newest published version is
// considered (stable-only unless includePrereleases); the extension is
// a candidate when that version is a strict upgrade over the installed
// one. Extensions whose installed version cannot be parsed are skipped.
func (r *Resolver) GetUpdateCandidates(ctx context.Context, tenantID string, includePrereleases bool) ([]datatypes.UpdateCandidate, error) {
	installations, err := r.catalog.ListInstalled(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list installed for tenant %s: %w", tenantID, err)
	}

	var candidates []datatypes.UpdateCandidate
	for _, inst := range installations {
		latest, err := r.FindCompatibleVersion(ctx, inst.ExtensionName, "", !includePrereleases)
		if err != nil {
			if errors.Is(err, ErrNoCompatibleVersion) || errors.Is(err, catalog.ErrExtensionNotFound) {
				continue
			}
			return nil, err
		}
		if IsUpgrade(inst.Version, latest) {
			candidates = append(candidates, datatypes.UpdateCandidate{
				Name:           inst.ExtensionName,
				CurrentVersion: inst.Version,
				LatestVersion:  latest,
			})
		}
	}
	return candidates, nil
}

// emitResolution reports a finished resolution to the audit sink.
func (r *Resolver) emitResolution(ctx context.Context, extensionName, version string, result *datatypes.ResolutionResult) {
	details := map[string]string{
		"version":  version,
		"success":  fmt.Sprintf("%t", result.Success),
		"resolved": fmt.Sprintf("%d", len(result.Resolved)),
	}
	if len(result.Errors) > 0 {
		details["first_error"] = result.Errors[0]
	}
	r.events.Log(ctx, events.Event{
		Extension: extensionName,
		Type:      events.TypeResolutionCompleted,
		Details:   details,
	})
}
