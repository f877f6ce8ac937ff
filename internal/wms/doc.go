// Package wms fetches aerial imagery tiles from Web Map Service
// endpoints. It is the only part of the system that performs network I/O;
// the detection core consumes fully materialized rasters and never sees
// this layer.
package wms
