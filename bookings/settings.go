package bookings

import "github.com/jacentio/innkeeper/store"

// SettingsKind is the shared-type kind holding application settings.
const SettingsKind = "Settings"

func settingsKind() store.Definition {
	return store.SharedType(SettingsKind).
		Table("settings").
		Key(store.Attr("ID", store.TypeInt)).
		Props(
			store.Attr("Key", store.TypeText).MaxLen(100),
			store.Attr("Value", store.TypeText).MaxLen(1000),
		)
}

// NewSetting returns a settings bag with every attribute validated.
func NewSetting(reg *store.Registry, id int64, key, value string) (*store.Bag, error) {
	b, err := reg.NewBag(SettingsKind)
	if err != nil {
		return nil, err
	}
	if err := b.Set("ID", id); err != nil {
		return nil, err
	}
	if err := b.Set("Key", key); err != nil {
		return nil, err
	}
	if err := b.Set("Value", value); err != nil {
		return nil, err
	}
	return b, nil
}
