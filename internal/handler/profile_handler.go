package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/healthmate/internal/middleware"
	"github.com/hitoshi/healthmate/internal/model"
	"github.com/hitoshi/healthmate/internal/repository"
	"github.com/hitoshi/healthmate/internal/session"
)

// ProfileState はプロフィールハンドラーが参照・再公開に使う状態機械のインターフェース。
type ProfileState interface {
	State() session.State
	RefreshProfile(ctx context.Context) error
}

var _ ProfileState = (*session.Store)(nil)

// ProfileHandler はプロフィールと子コレクションのHTTPハンドラー。
// 書き込みの後は状態機械にプロフィールを読み直させ、購読者に最新の内容を届ける。
type ProfileHandler struct {
	repo   repository.ProfileRepository
	state  ProfileState
	logger *slog.Logger
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(repo repository.ProfileRepository, state ProfileState, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{repo: repo, state: state, logger: logger}
}

// GetProfile はプロフィールをリポジトリから読み直して返す。
// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewUnauthenticatedError(""))
		return
	}

	profile, err := h.repo.GetProfile(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// SetupProfile はプロフィール設定画面の入力で基本情報を埋め、初期の子エントリを追加する。
// 書き込みは1件ずつ行い、途中で失敗した場合はそれまでの書き込みを残したままエラーを返す。
// POST /api/profile
func (h *ProfileHandler) SetupProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewUnauthenticatedError(""))
		return
	}

	var req model.Profile
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	req.NormalizeCollections()
	if err := validateSetup(&req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	bmi := model.ComputeBMI(req.Height, req.Weight)
	update := model.ProfileUpdate{
		DateOfBirth: &req.DateOfBirth,
		Gender:      &req.Gender,
		BloodType:   &req.BloodType,
		Height:      &req.Height,
		Weight:      &req.Weight,
		BMI:         &bmi,
	}
	if !blank(req.Phone) {
		update.Phone = &req.Phone
	}

	err = h.setup(r.Context(), userID, update, &req)
	h.refresh(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.current(nil))
}

func (h *ProfileHandler) setup(ctx context.Context, userID string, update model.ProfileUpdate, req *model.Profile) error {
	if _, err := h.repo.UpdateProfile(ctx, userID, update); err != nil {
		return err
	}
	for _, e := range req.MedicalHistory {
		if _, err := h.repo.AddMedicalHistory(ctx, userID, e); err != nil {
			return err
		}
	}
	for _, e := range req.Allergies {
		if _, err := h.repo.AddAllergy(ctx, userID, e); err != nil {
			return err
		}
	}
	for _, e := range req.Medications {
		if _, err := h.repo.AddMedication(ctx, userID, e); err != nil {
			return err
		}
	}
	for _, e := range req.EmergencyContacts {
		if _, err := h.repo.AddEmergencyContact(ctx, userID, e); err != nil {
			return err
		}
	}
	return nil
}

// UpdateProfile はルートフィールドを部分更新する。
// 身長か体重が変わる場合はBMIをここで算出し直して一緒に保存する。送られてきたBMIは使わない。
// PATCH /api/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewUnauthenticatedError(""))
		return
	}

	var update model.ProfileUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		middleware.WriteError(w, err)
		return
	}
	update.BMI = nil
	if err := validateUpdate(update); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if update.Height != nil || update.Weight != nil {
		bmi := h.recomputeBMI(update)
		update.BMI = &bmi
	}

	updated, err := h.repo.UpdateProfile(r.Context(), userID, update)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	h.refresh(r.Context())
	writeJSON(w, http.StatusOK, h.current(updated))
}

// recomputeBMI は更新後の身長と体重からBMIを求める。未指定の側は現在のプロフィールの値を使う。
func (h *ProfileHandler) recomputeBMI(update model.ProfileUpdate) string {
	var height, weight string
	if current := h.state.State().Profile; current != nil {
		height, weight = current.Height, current.Weight
	}
	if update.Height != nil {
		height = *update.Height
	}
	if update.Weight != nil {
		weight = *update.Weight
	}
	return model.ComputeBMI(height, weight)
}

// RefreshProfile は状態機械にプロフィールを読み直させ、最新の状態を返す。
// POST /api/profile/refresh
func (h *ProfileHandler) RefreshProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.state.RefreshProfile(r.Context()); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(h.state.State()))
}

// refresh は書き込み後の読み直しを行う。失敗しても書き込み自体の結果は変えない。
func (h *ProfileHandler) refresh(ctx context.Context) {
	if err := h.state.RefreshProfile(ctx); err != nil {
		h.logger.Warn("プロフィールの再取得に失敗しました", slog.String("error", err.Error()))
	}
}

// current は公開中のプロフィールを返す。認証済みでなければfallbackを返す。
func (h *ProfileHandler) current(fallback *model.Profile) *model.Profile {
	if st := h.state.State(); st.Authenticated() && st.Profile != nil {
		return st.Profile
	}
	return fallback
}

// collection は子コレクション1種類分の操作と検証をまとめたもの。
// E はエントリ、P は部分更新の型。
type collection[E, P any] struct {
	add           func(ctx context.Context, parentID string, entry E) (*E, error)
	update        func(ctx context.Context, entryID string, patch P) (*E, error)
	remove        func(ctx context.Context, entryID string) error
	prepare       func(E) E // 検証前の既定値の補完（任意）
	validateEntry func(E) error
	validatePatch func(P) error
}

// router はchi.Routeに渡す登録関数を返す。
func (c collection[E, P]) router(h *ProfileHandler) func(chi.Router) {
	return func(r chi.Router) {
		r.Post("/", c.handleAdd(h))
		r.Route("/{id}", func(r chi.Router) {
			r.Patch("/", c.handleUpdate(h))
			r.Delete("/", c.handleDelete(h))
		})
	}
}

func (c collection[E, P]) handleAdd(h *ProfileHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := middleware.UserIDFromContext(r.Context())
		if err != nil {
			middleware.WriteError(w, model.NewUnauthenticatedError(""))
			return
		}

		var entry E
		if err := decodeJSON(w, r, &entry); err != nil {
			middleware.WriteError(w, err)
			return
		}
		if c.prepare != nil {
			entry = c.prepare(entry)
		}
		if err := c.validateEntry(entry); err != nil {
			middleware.WriteError(w, err)
			return
		}

		created, err := c.add(r.Context(), userID, entry)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}

		h.refresh(r.Context())
		writeJSON(w, http.StatusCreated, created)
	}
}

// handleUpdate と handleDelete は認証済みidentityの行のみを対象にする。
func (c collection[E, P]) handleUpdate(h *ProfileHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := middleware.UserIDFromContext(r.Context())
		if err != nil {
			middleware.WriteError(w, model.NewUnauthenticatedError(""))
			return
		}

		var patch P
		if err := decodeJSON(w, r, &patch); err != nil {
			middleware.WriteError(w, err)
			return
		}
		if err := c.validatePatch(patch); err != nil {
			middleware.WriteError(w, err)
			return
		}

		updated, err := c.update(repository.WithOwner(r.Context(), userID), chi.URLParam(r, "id"), patch)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}

		h.refresh(r.Context())
		writeJSON(w, http.StatusOK, updated)
	}
}

// handleDelete は存在しないIDの削除も成功として扱う。
func (c collection[E, P]) handleDelete(h *ProfileHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := middleware.UserIDFromContext(r.Context())
		if err != nil {
			middleware.WriteError(w, model.NewUnauthenticatedError(""))
			return
		}

		if err := c.remove(repository.WithOwner(r.Context(), userID), chi.URLParam(r, "id")); err != nil {
			middleware.WriteError(w, err)
			return
		}

		h.refresh(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}
}

// Routes はプロフィールAPIのルーティングを登録する。
// 認証ガードとレート制限は呼び出し側で適用すること。
func (h *ProfileHandler) Routes(r chi.Router) {
	r.Get("/", h.GetProfile)
	r.Post("/", h.SetupProfile)
	r.Patch("/", h.UpdateProfile)
	r.Post("/refresh", h.RefreshProfile)

	r.Route("/medical-history", collection[model.MedicalHistoryEntry, model.MedicalHistoryPatch]{
		add:           h.repo.AddMedicalHistory,
		update:        h.repo.UpdateMedicalHistory,
		remove:        h.repo.DeleteMedicalHistory,
		validateEntry: validateMedicalHistory,
		validatePatch: validateMedicalHistoryPatch,
	}.router(h))

	r.Route("/allergies", collection[model.AllergyEntry, model.AllergyPatch]{
		add:           h.repo.AddAllergy,
		update:        h.repo.UpdateAllergy,
		remove:        h.repo.DeleteAllergy,
		prepare:       withDefaultSeverity,
		validateEntry: validateAllergy,
		validatePatch: validateAllergyPatch,
	}.router(h))

	r.Route("/medications", collection[model.MedicationEntry, model.MedicationPatch]{
		add:           h.repo.AddMedication,
		update:        h.repo.UpdateMedication,
		remove:        h.repo.DeleteMedication,
		validateEntry: validateMedication,
		validatePatch: validateMedicationPatch,
	}.router(h))

	r.Route("/emergency-contacts", collection[model.EmergencyContactEntry, model.EmergencyContactPatch]{
		add:           h.repo.AddEmergencyContact,
		update:        h.repo.UpdateEmergencyContact,
		remove:        h.repo.DeleteEmergencyContact,
		validateEntry: validateEmergencyContact,
		validatePatch: validateEmergencyContactPatch,
	}.router(h))
}
