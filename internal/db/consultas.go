package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Consulta is one recorded vehicle consultation: who asked for which plate,
// with what OCR confidence and position, and what the backend answered.
type Consulta struct {
	ID             uuid.UUID `json:"id"`
	UserID         string    `json:"user_id"`
	Patente        string    `json:"patente"`
	OCRConfidence  float64   `json:"ocr_confidence"`
	EstadoVehiculo string    `json:"estado_vehiculo"`
	GPSLat         *float64  `json:"gps_lat,omitempty"`
	GPSLon         *float64  `json:"gps_lon,omitempty"`
	ImagenURL      string    `json:"imagen_url,omitempty"`
	Resultado      string    `json:"resultado,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func SaveConsulta(ctx context.Context, c *Consulta) error {
	query := `
		INSERT INTO consultas_vehiculares (
			user_id, patente, ocr_confidence, estado_vehiculo,
			gps_lat, gps_lon, imagen_url, resultado
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	return Pool.QueryRow(ctx, query,
		c.UserID, c.Patente, c.OCRConfidence, c.EstadoVehiculo,
		c.GPSLat, c.GPSLon, c.ImagenURL, c.Resultado,
	).Scan(&c.ID, &c.CreatedAt)
}

func ListConsultas(ctx context.Context, userID string, limit, offset int) ([]Consulta, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, user_id, patente, COALESCE(ocr_confidence, 0),
		       COALESCE(estado_vehiculo, ''), gps_lat, gps_lon,
		       COALESCE(imagen_url, ''), COALESCE(resultado::text, ''), created_at
		FROM consultas_vehiculares
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := Pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var consultas []Consulta
	for rows.Next() {
		var c Consulta
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.Patente, &c.OCRConfidence,
			&c.EstadoVehiculo, &c.GPSLat, &c.GPSLon,
			&c.ImagenURL, &c.Resultado, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		consultas = append(consultas, c)
	}
	return consultas, rows.Err()
}
