package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dwkim/go-shop-store/internal/config"
	"github.com/dwkim/go-shop-store/internal/database"
	"github.com/dwkim/go-shop-store/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(db, cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	logger.Info("connected to database")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Post("/members", handleRegisterMember(db))

	r.Get("/main", handleMainPage(db))

	r.Route("/products", func(r chi.Router) {
		r.Post("/", handleCreateProduct(db))
		r.Get("/", handleAdminSearch(db))
		r.Get("/{productID}", handleGetProduct(db))
		r.Put("/{productID}", handleUpdateProduct(db))
		r.Post("/{productID}/stock", handleAdjustStock(db))
		r.Post("/{productID}/images", handleAddProductImage(db))
	})

	r.Group(func(r chi.Router) {
		r.Use(requireMember)

		r.Route("/cart", func(r chi.Router) {
			r.Post("/", handleAddToCart(db))
			r.Get("/", handleListCart(db))
			r.Patch("/{lineID}", handleUpdateCartLine(db))
			r.Delete("/{lineID}", handleRemoveCartLine(db))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", handlePlaceOrder(db))
			r.Post("/from-cart", handlePlaceOrderFromCart(db))
			r.Get("/", handleListOrders(db))
			r.Post("/{orderID}/cancel", handleCancelOrder(db))
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path))
		})
	}
}

// requireMember enforces the identity-provider contract: the
// authenticated member's email arrives in the X-Member-Email header and
// is trusted downstream without re-verification.
func requireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Member-Email") == "" {
			respondError(w, http.StatusUnauthorized, "Missing member identity")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func memberEmail(r *http.Request) string {
	return r.Header.Get("X-Member-Email")
}

func handleRegisterMember(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Name     string `json:"name"`
			Password string `json:"password"`
			Address  string `json:"address"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		member, err := store.RegisterMember(r.Context(), db, req.Email, req.Name, req.Password, req.Address)
		if err != nil {
			if errors.Is(err, database.ErrDuplicateMember) {
				respondError(w, http.StatusConflict, err.Error())
				return
			}
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		respondJSON(w, http.StatusCreated, member)
	}
}

func handleCreateProduct(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name   string  `json:"name"`
			Price  float64 `json:"price"`
			Stock  int     `json:"stock"`
			Detail string  `json:"detail"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		price := decimal.NewFromFloat(req.Price)
		product, err := store.CreateProduct(r.Context(), db, req.Name, price, req.Stock, req.Detail, memberEmail(r))
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		respondJSON(w, http.StatusCreated, product)
	}
}

func handleGetProduct(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "productID")
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid product ID")
			return
		}

		product, err := store.GetProduct(r.Context(), db, id)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, product)
	}
}

func handleUpdateProduct(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "productID")
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid product ID")
			return
		}

		var req struct {
			Name       string  `json:"name"`
			Price      float64 `json:"price"`
			Stock      int     `json:"stock"`
			Detail     string  `json:"detail"`
			SellStatus string  `json:"sell_status"`
			Version    int     `json:"version"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		form := store.ProductForm{
			Name:       req.Name,
			Price:      decimal.NewFromFloat(req.Price),
			Stock:      req.Stock,
			Detail:     req.Detail,
			SellStatus: req.SellStatus,
		}

		if err := store.UpdateProduct(r.Context(), db, id, form, req.Version); err != nil {
			if errors.Is(err, database.ErrVersionConflict) {
				respondError(w, http.StatusConflict, err.Error())
				return
			}
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]int64{"id": id})
	}
}

func handleAdjustStock(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "productID")
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid product ID")
			return
		}

		var req struct {
			Delta int `json:"delta"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := store.AdjustStock(r.Context(), db, id, req.Delta); err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]int64{"id": id})
	}
}

func handleAddProductImage(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "productID")
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid product ID")
			return
		}

		// The file-storage collaborator has already stored the upload;
		// only the resulting names and URL arrive here.
		var req struct {
			ImgName    string `json:"img_name"`
			OriImgName string `json:"ori_img_name"`
			ImgURL     string `json:"img_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		img, err := store.AddProductImage(r.Context(), db, id, req.ImgName, req.OriImgName, req.ImgURL)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusCreated, img)
	}
}

func handleAdminSearch(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		search := store.ProductSearch{
			DateRange:  r.URL.Query().Get("date_range"),
			SellStatus: r.URL.Query().Get("sell_status"),
			SearchBy:   r.URL.Query().Get("search_by"),
			Query:      r.URL.Query().Get("query"),
		}
		page, pageSize := pageParams(r)

		result, err := store.AdminProductPage(r.Context(), db, search, page, pageSize)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		respondJSON(w, http.StatusOK, result)
	}
}

func handleMainPage(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		search := store.ProductSearch{Query: r.URL.Query().Get("query")}
		page, pageSize := pageParams(r)

		result, err := store.MainProductPage(r.Context(), db, search, page, pageSize)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		respondJSON(w, http.StatusOK, result)
	}
}

func handleAddToCart(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProductID int64 `json:"product_id"`
			Quantity  int   `json:"quantity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		lineID, err := store.AddToCart(r.Context(), db, memberEmail(r), req.ProductID, req.Quantity)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusCreated, map[string]int64{"cart_line_id": lineID})
	}
}

func handleListCart(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		details, err := store.ListCart(r.Context(), db, memberEmail(r))
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, details)
	}
}

// cartLineGate is the authorization step required before every cart
// line mutation: the engine only looks ownership up, the gate lives
// here.
func cartLineGate(db *sql.DB, w http.ResponseWriter, r *http.Request) (int64, bool) {
	lineID, err := pathID(r, "lineID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid cart line ID")
		return 0, false
	}

	owned, err := store.CartLineOwnedBy(r.Context(), db, lineID, memberEmail(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return 0, false
	}
	if !owned {
		respondError(w, http.StatusForbidden, "Not your cart line")
		return 0, false
	}

	return lineID, true
}

func handleUpdateCartLine(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lineID, ok := cartLineGate(db, w, r)
		if !ok {
			return
		}

		var req struct {
			Quantity int `json:"quantity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Quantity <= 0 {
			respondError(w, http.StatusBadRequest, "Quantity must be positive")
			return
		}

		if err := store.UpdateCartLineQuantity(r.Context(), db, lineID, req.Quantity); err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]int64{"cart_line_id": lineID})
	}
}

func handleRemoveCartLine(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lineID, ok := cartLineGate(db, w, r)
		if !ok {
			return
		}

		if err := store.RemoveCartLine(r.Context(), db, lineID); err != nil {
			respondStoreError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func handlePlaceOrder(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Items []struct {
				ProductID int64 `json:"product_id"`
				Quantity  int   `json:"quantity"`
			} `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		var items []store.OrderLineRequest
		for _, item := range req.Items {
			items = append(items, store.OrderLineRequest{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
			})
		}

		orderID, err := store.PlaceOrder(r.Context(), db, memberEmail(r), items)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusCreated, map[string]int64{"order_id": orderID})
	}
}

func handlePlaceOrderFromCart(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CartLineIDs []int64 `json:"cart_line_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		for _, lineID := range req.CartLineIDs {
			owned, err := store.CartLineOwnedBy(r.Context(), db, lineID, memberEmail(r))
			if err != nil {
				respondError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if !owned {
				respondError(w, http.StatusForbidden, "Not your cart line")
				return
			}
		}

		orderID, err := store.PlaceOrderFromCart(r.Context(), db, memberEmail(r), req.CartLineIDs)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusCreated, map[string]int64{"order_id": orderID})
	}
}

func handleListOrders(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, pageSize := pageParams(r)

		result, err := store.ListOrders(r.Context(), db, memberEmail(r), page, pageSize)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, result)
	}
}

func handleCancelOrder(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := pathID(r, "orderID")
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid order ID")
			return
		}

		order, err := store.GetOrder(r.Context(), db, orderID)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		member, err := store.GetMemberByEmail(r.Context(), db, memberEmail(r))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if order.MemberID != member.ID {
			respondError(w, http.StatusForbidden, "Not your order")
			return
		}

		if err := store.CancelOrder(r.Context(), db, orderID); err != nil {
			respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]int64{"order_id": orderID})
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func pageParams(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrMemberNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrProductImageNotFound),
		errors.Is(err, database.ErrCartLineNotFound),
		errors.Is(err, database.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrOutOfStock),
		errors.Is(err, database.ErrOrderAlreadyCancelled):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
