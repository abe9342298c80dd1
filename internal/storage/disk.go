package storage

import "os"

// DiskUsage returns the bytes used by the database file and its WAL and shared-memory
// sidecars. An in-memory database reports zero.
func (s *SQLiteStore) DiskUsage() (int64, error) {
	if s.path == ":memory:" {
		return 0, nil
	}
	var total int64
	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
