package plugin

import (
	"context"
	"errors"

	"github.com/dshills/plughost/internal/plugin/association"
)

// OnAssociationChanged applies an association change to the active
// profile. Changes to other profiles are ignored.
func (h *Host) OnAssociationChanged(ctx context.Context, change association.Change) error {
	if change.ProfileID == "" || change.ProfileID != h.ActiveProfile() {
		return nil
	}

	var errs []error
	switch change.Kind {
	case association.ChangeEnabled:
		for _, id := range change.PluginIDs {
			errs = append(errs, h.EnablePlugin(ctx, change.ProfileID, id))
		}
	case association.ChangeDisabled:
		for _, id := range change.PluginIDs {
			errs = append(errs, h.DisablePlugin(ctx, change.ProfileID, id))
		}
	case association.ChangeAdded:
		for _, id := range change.PluginIDs {
			if e, ok := h.opts.Associations.Entry(change.ProfileID, id); ok && e.Enabled {
				errs = append(errs, h.EnablePlugin(ctx, change.ProfileID, id))
			}
		}
	case association.ChangeRemoved:
		for _, id := range change.PluginIDs {
			if err := h.removePlugin(ctx, id); err != nil && !errors.Is(err, ErrPluginNotFound) {
				errs = append(errs, err)
			}
		}
	case association.ChangeProfileRemoved:
		errs = append(errs, h.UnloadAllPlugins(ctx))
	}
	return errors.Join(errs...)
}

// OnLibraryUpdated reloads a running plugin whose package changed.
func (h *Host) OnLibraryUpdated(ctx context.Context, pluginID string) error {
	return h.ReloadPlugin(ctx, pluginID)
}

// Attach subscribes the host to association and library changes. ctx is
// used for the resulting plugin calls.
func (h *Host) Attach(ctx context.Context) {
	h.opts.Associations.OnChange(func(c association.Change) {
		if err := h.OnAssociationChanged(ctx, c); err != nil {
			h.log.Warn().Err(err).Str("profile", c.ProfileID).Stringer("change", c.Kind).Msg("Association change not fully applied")
		}
	})
	h.opts.Library.OnUpdate(func(id string) {
		if err := h.OnLibraryUpdated(ctx, id); err != nil {
			h.log.Warn().Err(err).Str("plugin", id).Msg("Library update not applied")
		}
	})
}
