package build

import (
	"os"

	"github.com/bitswalk/ibforge/src/ibforge/db"
)

// history records a run in the build database. Every method is a no-op
// without a repository and failures only produce warnings.
type history struct {
	repo    *db.BuildRepository
	started bool
}

func (h *history) start(sc *StageContext) {
	if h == nil || h.repo == nil {
		return
	}
	err := h.repo.Create(&db.Build{
		ID:      sc.BuildID,
		Target:  sc.Target.DisplayName,
		Profile: sc.Target.Profile,
		Distro:  sc.Release.Distro,
		Branch:  sc.Release.Branch,
		Tunnel:  sc.Options.Tunnel,
	})
	if err != nil {
		log.Warn("Failed to record build in history", "build_id", sc.BuildID, "error", err)
		return
	}
	h.started = true
}

func (h *history) artifact(sc *StageContext, a Artifact) {
	if h == nil || !h.started {
		return
	}
	var size int64
	if info, err := os.Stat(a.Path); err == nil {
		size = info.Size()
	}
	err := h.repo.AddArtifact(&db.BuildArtifact{
		BuildID:   sc.BuildID,
		Variant:   a.Variant,
		FileName:  a.DestinationName,
		Path:      a.Path,
		SizeBytes: size,
	})
	if err != nil {
		log.Warn("Failed to record artifact", "image", a.DestinationName, "error", err)
	}
}

func (h *history) checksum(sc *StageContext, fileName, digest string) {
	if h == nil || !h.started {
		return
	}
	if err := h.repo.SetArtifactChecksum(sc.BuildID, fileName, digest); err != nil {
		log.Warn("Failed to record artifact checksum", "image", fileName, "error", err)
	}
}

func (h *history) remoteKey(sc *StageContext, fileName, key string) {
	if h == nil || !h.started {
		return
	}
	if err := h.repo.SetArtifactRemoteKey(sc.BuildID, fileName, key); err != nil {
		log.Warn("Failed to record remote key", "image", fileName, "error", err)
	}
}

func (h *history) finish(sc *StageContext, runErr error) {
	if h == nil || !h.started {
		return
	}
	var err error
	if runErr != nil {
		err = h.repo.MarkFailed(sc.BuildID, runErr.Error())
	} else {
		err = h.repo.MarkCompleted(sc.BuildID)
	}
	if err != nil {
		log.Warn("Failed to update build status", "build_id", sc.BuildID, "error", err)
	}
}
