package swapdb

import (
	"bytes"
)

// migrateLegacyPrefix moves every entry from the legacy prefix to the open
// prefix. The legacy index had no history separation, so everything it held
// is open by definition. Values are carried over byte for byte; they stay in
// the v1 record layout and are widened by the following migration.
func migrateLegacyPrefix(tx WriteTx) error {
	type entry struct {
		key   []byte
		value []byte
	}

	var legacy []entry
	prefixByte := []byte{byte(PrefixLegacy)}
	err := tx.ForEachFrom(
		TypeSeekKey(PrefixLegacy), func(key, value []byte) error {
			if !bytes.HasPrefix(key, prefixByte) {
				return ErrStopIteration
			}

			keyCopy := make([]byte, len(key))
			copy(keyCopy, key)
			valueCopy := make([]byte, len(value))
			copy(valueCopy, value)
			legacy = append(legacy, entry{keyCopy, valueCopy})
			return nil
		},
	)
	if err != nil {
		return err
	}

	if len(legacy) == 0 {
		return nil
	}

	log.Infof("Migrating %d legacy swap entries", len(legacy))

	for _, e := range legacy {
		// The key layout is unchanged between the legacy and open
		// families, only the prefix byte differs.
		newKey := make([]byte, len(e.key))
		copy(newKey, e.key)
		newKey[0] = byte(PrefixOpen)

		if err := tx.Put(newKey, e.value); err != nil {
			return err
		}
		if err := tx.Delete(e.key); err != nil {
			return err
		}
	}

	return nil
}

// migrateOfferSchemaV2 rewrites every open and history value from the v1
// record layout to the current one. Keys are unchanged; the v2-only fields
// come out zero so no want entries need to be created.
func migrateOfferSchemaV2(tx WriteTx) error {
	type entry struct {
		key   []byte
		value []byte
	}

	var stale []entry
	for _, p := range []Prefix{PrefixOpen, PrefixHistory} {
		prefixByte := []byte{byte(p)}
		err := tx.ForEachFrom(
			TypeSeekKey(p), func(key, value []byte) error {
				if !bytes.HasPrefix(key, prefixByte) {
					return ErrStopIteration
				}

				keyCopy := make([]byte, len(key))
				copy(keyCopy, key)
				valueCopy := make([]byte, len(value))
				copy(valueCopy, value)
				stale = append(stale, entry{keyCopy, valueCopy})
				return nil
			},
		)
		if err != nil {
			return err
		}
	}

	widened := 0
	for _, e := range stale {
		var legacy offerV1
		if err := legacy.deserialize(bytes.NewReader(e.value)); err != nil {
			log.Warnf("Skipping unreadable v1 swap entry %x: %v",
				e.key, err)
			continue
		}

		value, err := legacy.widen().Bytes()
		if err != nil {
			return err
		}
		if err := tx.Put(e.key, value); err != nil {
			return err
		}
		widened++
	}

	if widened > 0 {
		log.Infof("Widened %d swap entries to the v2 record layout",
			widened)
	}

	return nil
}
