package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dwkim/go-shop-store/internal/database"
	"github.com/dwkim/go-shop-store/internal/models"
)

// AddProductImage registers an uploaded image for a product. The first
// image registered becomes the representative image used on listings.
func AddProductImage(ctx context.Context, db *sql.DB, productID int64, imgName, oriImgName, imgURL string) (*models.ProductImage, error) {
	img := &models.ProductImage{}

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check product exists: %w", err)
		}
		if !exists {
			return database.ErrProductNotFound
		}

		var hasRep bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM product_images WHERE product_id = $1 AND is_representative)`,
			productID).Scan(&hasRep)
		if err != nil {
			return fmt.Errorf("check representative image: %w", err)
		}

		query := `
			INSERT INTO product_images (product_id, img_name, ori_img_name, img_url, is_representative, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
			RETURNING id, product_id, img_name, ori_img_name, img_url, is_representative, created_at, updated_at`

		return tx.QueryRowContext(ctx, query, productID, imgName, oriImgName, imgURL, !hasRep).Scan(
			&img.ID,
			&img.ProductID,
			&img.ImgName,
			&img.OriImgName,
			&img.ImgURL,
			&img.IsRepresentative,
			&img.CreatedAt,
			&img.UpdatedAt,
		)
	})
	if err != nil {
		if err == database.ErrProductNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("add product image: %w", err)
	}

	return img, nil
}

// UpdateProductImage replaces the stored file names and URL after a
// re-upload. The representative flag is never changed here.
func UpdateProductImage(ctx context.Context, db *sql.DB, imageID int64, imgName, oriImgName, imgURL string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE product_images
		 SET img_name = $1, ori_img_name = $2, img_url = $3, updated_at = NOW()
		 WHERE id = $4`,
		imgName, oriImgName, imgURL, imageID)
	if err != nil {
		return fmt.Errorf("update product image: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrProductImageNotFound
	}

	return nil
}

func GetRepresentativeImage(ctx context.Context, db *sql.DB, productID int64) (*models.ProductImage, error) {
	img := &models.ProductImage{}

	query := `
		SELECT id, product_id, img_name, ori_img_name, img_url, is_representative, created_at, updated_at
		FROM product_images
		WHERE product_id = $1 AND is_representative`

	err := db.QueryRowContext(ctx, query, productID).Scan(
		&img.ID,
		&img.ProductID,
		&img.ImgName,
		&img.OriImgName,
		&img.ImgURL,
		&img.IsRepresentative,
		&img.CreatedAt,
		&img.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductImageNotFound
		}
		return nil, fmt.Errorf("get representative image: %w", err)
	}

	return img, nil
}
